package auth

// Known OAuth scopes used by the prediction API.
const (
	ScopePredictionsWrite = "predictions:write"
	ScopePredictionsRead  = "predictions:read"
	ScopeStatsRead        = "stats:read"
	ScopeDatasetExport    = "dataset:export"
)
