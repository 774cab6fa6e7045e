package post

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/h2non/filetype"
)

var (
	ErrEmptyPost       = errors.New("post needs content or media")
	ErrMediaMissing    = errors.New("media file not found")
	ErrMediaNotRegular = errors.New("media path is not a regular file")
	ErrMediaType       = errors.New("media type not allowed")
	ErrTooManyMedia    = errors.New("too many media files")
	ErrMediaTooLarge   = errors.New("media file too large")
)

// MediaRules bounds what a post may attach.
type MediaRules struct {
	MaxFiles int   // 0 = unlimited
	MaxBytes int64 // per file, 0 = unlimited
	// AllowedKinds are filetype MIME type prefixes, e.g. "image", "video".
	// Empty allows any detectable or undetectable type.
	AllowedKinds []string
}

// ValidateContent checks the content/media shape without touching the disk.
func ValidateContent(content string, media []string, rules MediaRules) error {
	if strings.TrimSpace(content) == "" && len(media) == 0 {
		return ErrEmptyPost
	}
	if rules.MaxFiles > 0 && len(media) > rules.MaxFiles {
		return fmt.Errorf("%w: %d > %d", ErrTooManyMedia, len(media), rules.MaxFiles)
	}
	for i, m := range media {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("%w: media[%d] is empty", ErrMediaMissing, i)
		}
	}
	return nil
}

// ValidateMedia resolves every media reference to an existing local file of an
// allowed type.
func ValidateMedia(media []string, rules MediaRules) error {
	for _, path := range media {
		if err := validateFile(path, rules); err != nil {
			return err
		}
	}
	return nil
}

func validateFile(path string, rules MediaRules) error {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMediaMissing, path)
		}
		return fmt.Errorf("media %s: %w", path, err)
	}
	if !st.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrMediaNotRegular, path)
	}
	if rules.MaxBytes > 0 && st.Size() > rules.MaxBytes {
		return fmt.Errorf("%w: %s is %d bytes (max %d)", ErrMediaTooLarge, path, st.Size(), rules.MaxBytes)
	}
	if len(rules.AllowedKinds) == 0 {
		return nil
	}
	kind, err := filetype.MatchFile(path)
	if err != nil {
		return fmt.Errorf("media %s: %w", path, err)
	}
	if kind == filetype.Unknown {
		return fmt.Errorf("%w: %s has unknown type", ErrMediaType, path)
	}
	for _, allowed := range rules.AllowedKinds {
		if strings.EqualFold(kind.MIME.Type, strings.TrimSpace(allowed)) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is %s", ErrMediaType, path, kind.MIME.Value)
}
