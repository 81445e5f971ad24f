package domain

// Acquisition is the raw media fetched for a submission, before transformation.
// Exactly one of VideoPath or ImagePaths is set, matching Kind.
type Acquisition struct {
	Kind       MediaKind
	VideoPath  string
	ImagePaths []string
	AudioPath  string
	Source     SourceInfo
	// Provider names the path that produced the media ("primary" or "fallback").
	Provider string
}
