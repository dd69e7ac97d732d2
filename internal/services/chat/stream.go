package chat

import (
	"context"
	"errors"
	"io"

	"github.com/beagleboard/beaglemind/internal/config"
	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/beagleboard/beaglemind/internal/infrastructure/llm"
)

var ErrStreamClosed = errors.New("answer stream closed")

// AnswerStream is a pull-based answer run. Next yields text fragments as
// the backend produces them and returns io.EOF once the answer is final.
// The caller may Close at any fragment boundary; the run is then discarded.
type AnswerStream struct {
	ctx context.Context
	run *run

	cur     llm.Stream
	pending []string
	done    bool
	closed  bool
	err     error
}

func (o *Orchestrator) Stream(ctx context.Context, cfg config.EffectiveConfig, req models.QueryRequest, history []models.Message) (*AnswerStream, error) {
	r, err := o.prepare(ctx, cfg, req, history)
	if err != nil {
		return nil, err
	}
	return &AnswerStream{ctx: ctx, run: r}, nil
}

func (s *AnswerStream) Next() (string, error) {
	for {
		if len(s.pending) > 0 {
			f := s.pending[0]
			s.pending = s.pending[1:]
			return f, nil
		}
		switch {
		case s.closed:
			return "", ErrStreamClosed
		case s.err != nil:
			return "", s.err
		case s.done:
			return "", io.EOF
		}

		if s.cur == nil {
			s.run.enter(StateAwaitingModel)
			st, err := s.run.backend.Stream(s.ctx, s.run.request())
			if err != nil {
				s.fail(err)
				continue
			}
			s.cur = st
		}

		fragment, err := s.cur.Next()
		if err == nil {
			if fragment == "" {
				continue
			}
			return fragment, nil
		}
		if !errors.Is(err, io.EOF) {
			s.fail(err)
			continue
		}

		resp := s.cur.Response()
		s.cur.Close()
		s.cur = nil
		if resp == nil {
			s.fail(errors.New("backend stream ended without a response"))
			continue
		}

		done, err := s.run.step(s.ctx, resp)
		if err != nil {
			s.fail(err)
			continue
		}
		if done {
			s.done = true
			// placeholder texts were never produced by the backend
			if s.run.synthetic {
				s.pending = append(s.pending, s.run.answer.Text)
			}
		}
	}
}

func (s *AnswerStream) fail(err error) {
	if s.cur != nil {
		s.cur.Close()
		s.cur = nil
	}
	s.err = s.run.fail(err)
}

// Answer is the final answer, available only after Next returned io.EOF
func (s *AnswerStream) Answer() *models.Answer {
	if !s.done || s.closed || s.err != nil || len(s.pending) > 0 {
		return nil
	}
	return s.run.answer
}

// Err is the error that ended the run, if any
func (s *AnswerStream) Err() error {
	return s.err
}

func (s *AnswerStream) Close() error {
	if s.closed {
		return nil
	}
	if !s.done {
		s.closed = true
	}
	if s.cur != nil {
		err := s.cur.Close()
		s.cur = nil
		return err
	}
	return nil
}
