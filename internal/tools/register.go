package tools

import (
	"time"

	"github.com/haasonsaas/kira/internal/host"
)

// RegisterAll wires the canonical tool set against one host. publisher
// carries inbox.normalized events and may be nil; loc and now default to
// the process-local clock when nil.
func RegisterAll(r *Registry, h *host.Host, publisher host.Publisher, loc *time.Location, now func() time.Time) error {
	for _, tool := range []Tool{
		NewTaskList(h),
		NewTaskGet(h),
		NewTaskCreate(h),
		NewTaskUpdate(h),
		NewTaskDelete(h),
		NewNoteCreate(h),
		NewRollupDaily(h, loc, now),
		NewInboxNormalize(h, publisher, now),
	} {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
