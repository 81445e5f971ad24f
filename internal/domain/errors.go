package domain

import "errors"

// Domain errors.
var (
	// ErrAssetNotFound is returned when an asset cannot be found.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrJobNotFound is returned when a job cannot be found.
	ErrJobNotFound = errors.New("job not found")

	// ErrNoJobs is returned when there are no jobs to process.
	ErrNoJobs = errors.New("no jobs available")

	// ErrInvalidSourceURL is returned when the link is not from an accepted host.
	ErrInvalidSourceURL = errors.New("invalid source URL")

	// ErrMessageTooLong is returned when the sender's message exceeds the limit.
	ErrMessageTooLong = errors.New("message too long")

	// ErrInvalidOwner is returned when a submission carries no owner.
	ErrInvalidOwner = errors.New("owner is required")

	// ErrAcquisitionFailed is returned when neither provider could fetch the media.
	ErrAcquisitionFailed = errors.New("acquisition failed")

	// ErrTransformFailed is returned when the media could not be made playable.
	ErrTransformFailed = errors.New("transform failed")

	// ErrNoImages is returned when a slideshow has nothing to show.
	ErrNoImages = errors.New("slideshow has no images")

	// ErrIncompletePayload is returned when a ready payload lacks required fields.
	ErrIncompletePayload = errors.New("incomplete payload")

	// ErrInvalidTransition is returned when an asset is no longer processing.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrForbidden is returned when the requester does not own the asset.
	ErrForbidden = errors.New("forbidden")

	// ErrFileMissing is returned when a file referenced by a ready asset is gone.
	ErrFileMissing = errors.New("media file missing")

	// ErrNotReady is returned when media is requested from an asset that is not ready.
	ErrNotReady = errors.New("asset not ready")

	// ErrMediaNotFound is returned when the requested media does not exist for the asset kind.
	ErrMediaNotFound = errors.New("media not found")
)

// IsValidationError reports whether err was caused by bad caller input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidSourceURL) ||
		errors.Is(err, ErrMessageTooLong) ||
		errors.Is(err, ErrInvalidOwner)
}

// IsNotFound reports whether err should be surfaced as a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAssetNotFound) ||
		errors.Is(err, ErrFileMissing) ||
		errors.Is(err, ErrNotReady) ||
		errors.Is(err, ErrMediaNotFound)
}

// AssetError wraps an error with asset context.
type AssetError struct {
	AssetID AssetID
	Op      string
	Err     error
}

func (e *AssetError) Error() string {
	if e.AssetID != "" {
		return e.Op + " [" + e.AssetID.String() + "]: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// NewAssetError creates a new AssetError.
func NewAssetError(assetID AssetID, op string, err error) *AssetError {
	return &AssetError{
		AssetID: assetID,
		Op:      op,
		Err:     err,
	}
}
