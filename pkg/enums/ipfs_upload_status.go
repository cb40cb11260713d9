package enums

import "fmt"

// IPFSUploadStatus summarizes the per-file content upload outcome.
type IPFSUploadStatus string

const (
	IPFSUploadStatusPending IPFSUploadStatus = "pending"
	IPFSUploadStatusSuccess IPFSUploadStatus = "success"
	IPFSUploadStatusPartial IPFSUploadStatus = "partial"
	IPFSUploadStatusFailed  IPFSUploadStatus = "failed"
)

var validIPFSUploadStatuses = []IPFSUploadStatus{
	IPFSUploadStatusPending,
	IPFSUploadStatusSuccess,
	IPFSUploadStatusPartial,
	IPFSUploadStatusFailed,
}

func (s IPFSUploadStatus) String() string {
	return string(s)
}

func (s IPFSUploadStatus) IsValid() bool {
	for _, candidate := range validIPFSUploadStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IPFSUploadStatusFor derives the status from how many of the attempted files were pinned.
func IPFSUploadStatusFor(succeeded, attempted int) IPFSUploadStatus {
	switch {
	case attempted == 0:
		return IPFSUploadStatusPending
	case succeeded == 0:
		return IPFSUploadStatusFailed
	case succeeded < attempted:
		return IPFSUploadStatusPartial
	default:
		return IPFSUploadStatusSuccess
	}
}

func ParseIPFSUploadStatus(value string) (IPFSUploadStatus, error) {
	for _, candidate := range validIPFSUploadStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ipfs upload status %q", value)
}
