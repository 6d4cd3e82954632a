package domain

// CheckTask is one queued request to probe a site.
type CheckTask struct {
	SiteID string
	URL    string

	// DeliveryID is assigned by the queue on append and is the only handle
	// used for acknowledgement. Empty until the task has been appended.
	DeliveryID string
}

// Queue entry field names. Entries are flat field/value records.
const (
	TaskFieldSiteID = "site_id"
	TaskFieldURL    = "url"
)

// Fields returns the wire representation of the task.
func (t CheckTask) Fields() map[string]any {
	return map[string]any{
		TaskFieldSiteID: t.SiteID,
		TaskFieldURL:    t.URL,
	}
}
