package enums

import (
	"fmt"
	"strings"
)

// ArtifactKind identifies one of the rendered certificate files.
type ArtifactKind string

const (
	ArtifactKindPNG ArtifactKind = "png"
	ArtifactKindPDF ArtifactKind = "pdf"
)

func (k ArtifactKind) String() string {
	return string(k)
}

func (k ArtifactKind) IsValid() bool {
	return k == ArtifactKindPNG || k == ArtifactKindPDF
}

// ContentType returns the MIME type served for the artifact.
func (k ArtifactKind) ContentType() string {
	if k == ArtifactKindPDF {
		return "application/pdf"
	}
	return "image/png"
}

// PinType is the metadata tag attached when the artifact is pinned to IPFS.
func (k ArtifactKind) PinType() string {
	return "certificate_" + string(k)
}

func ParseArtifactKind(value string) (ArtifactKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(ArtifactKindPNG):
		return ArtifactKindPNG, nil
	case string(ArtifactKindPDF):
		return ArtifactKindPDF, nil
	}
	return "", fmt.Errorf("invalid artifact kind %q", value)
}
