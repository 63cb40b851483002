package model

import "fmt"

// BlobRef locates an object on one storage account.
// Keeping the account explicit lets readers fall back to probing other
// accounts when metadata and provider disagree.
type BlobRef struct {
	AccountID string `json:"account_id"`
	RemoteID  string `json:"remote_id"`
}

func (r BlobRef) IsZero() bool {
	return r.AccountID == "" && r.RemoteID == ""
}

func (r BlobRef) String() string {
	return fmt.Sprintf("%s/%s", r.AccountID, r.RemoteID)
}
