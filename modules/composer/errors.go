package composer

import "errors"

var (
	// ErrEmptyMessage is returned when a draft has neither text nor an image.
	ErrEmptyMessage = errors.New("message must have text or an image")

	// ErrNoSender is returned when the composer has no display name.
	ErrNoSender = errors.New("sender is required")

	// ErrImageTooLarge is returned for images above MaxImageSize.
	ErrImageTooLarge = errors.New("Image size must be less than 5MB")

	// ErrNotAnImage is returned when the upload is not image/*.
	ErrNotAnImage = errors.New("Please select an image file")

	// ErrInvalidImage is returned when the image data cannot be decoded.
	ErrInvalidImage = errors.New("image data is corrupt")

	// ErrUploadFailed is returned by an image host that rejected the upload.
	ErrUploadFailed = errors.New("image upload failed")
)
