package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/beagleboard/beaglemind/internal/services/retrieval"
)

const maxContextResults = 20

type retrieveContextParams struct {
	Query      string `json:"query"`
	NResults   int    `json:"n_results"`
	Collection string `json:"collection"`
}

func retrieveContext(ctx context.Context, env Env, args json.RawMessage) (string, error) {
	var params retrieveContextParams
	if err := decodeArgs(args, &params); err != nil {
		return "", err
	}
	if params.Query == "" {
		return "", fmt.Errorf("query is required")
	}
	if env.Store == nil {
		return "", fmt.Errorf("retrieval is not configured")
	}

	collection := params.Collection
	if collection == "" {
		collection = env.Collection
	}
	k := params.NResults
	if k < 1 {
		k = env.TopK
	}
	if k < 1 {
		k = 5
	}
	if k > maxContextResults {
		k = maxContextResults
	}

	result, err := retrieval.Search(ctx, env.Store, collection, params.Query, k)
	if err != nil {
		return "", err
	}

	if env.OnRetrieve != nil && len(result) > 0 {
		env.OnRetrieve(result)
	}
	if len(result) == 0 {
		return "No relevant documents found.", nil
	}
	return retrieval.FormatDocuments(result), nil
}
