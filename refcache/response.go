package refcache

import (
	"time"

	"github.com/jonwraymond/refcache/preview"
	"github.com/jonwraymond/refcache/ref"
	"github.com/jonwraymond/refcache/task"
)

// Response field keys. Responses are plain string-keyed maps so they
// serialize directly into any tool-calling wire format.
const (
	FieldRefID        = "ref_id"
	FieldCacheName    = "cache_name"
	FieldNamespace    = "namespace"
	FieldToolName     = "tool_name"
	FieldValue        = "value"
	FieldPreview      = "preview"
	FieldPage         = "page"
	FieldTotalItems   = "total_items"
	FieldTotalTokens  = "total_tokens"
	FieldResponseType = "response_type"
	FieldError        = "error"
	FieldIsError      = "is_error"
	FieldTaskID       = "task_id"
	FieldStatus       = "status"
	FieldIsAsync      = "is_async"
	FieldIsComplete   = "is_complete"
	FieldProgress     = "progress"
	FieldETASeconds   = "eta_seconds"
	FieldStartedAt    = "started_at"
	FieldAttempts     = "attempts"
)

// Reserved per-call argument keys. The wrapper strips these before key
// computation so they select a response shape without forking the
// cache key.
const (
	ArgResponseType = "response_type"
	ArgPage         = "page"
	ArgPageSize     = "page_size"
)

// referenceResponse builds the base response for a cache hit or store.
func referenceResponse(r *ref.Reference) map[string]any {
	resp := map[string]any{
		FieldRefID:     r.ID,
		FieldCacheName: r.CacheName,
		FieldNamespace: r.Namespace,
	}
	if r.ToolName != "" {
		resp[FieldToolName] = r.ToolName
	}
	if r.TotalItems > 0 {
		resp[FieldTotalItems] = r.TotalItems
	}
	if r.TotalTokens > 0 {
		resp[FieldTotalTokens] = r.TotalTokens
	}
	return resp
}

func withResponseType(resp map[string]any, rt ref.ResponseType) map[string]any {
	resp[FieldResponseType] = string(rt)
	return resp
}

func withPreview(resp map[string]any, p *preview.Preview) map[string]any {
	resp[FieldPreview] = p
	return resp
}

func withPage(resp map[string]any, page *preview.Page) map[string]any {
	resp[FieldPage] = page
	return resp
}

// errorResponse builds an error-shaped response. Tool errors surface
// as data rather than transport failures so agents can react to them.
func errorResponse(tool, msg string) map[string]any {
	resp := map[string]any{
		FieldError:   msg,
		FieldIsError: true,
	}
	if tool != "" {
		resp[FieldToolName] = tool
	}
	return resp
}

// asyncResponse builds the response for an execution handed off to the
// task backend. The handle is surfaced as the ref_id too: callers poll
// it through Get until the stored value is ready.
func asyncResponse(cacheName string, info *task.Info, now time.Time) map[string]any {
	resp := map[string]any{
		FieldRefID:      info.ID,
		FieldTaskID:     info.ID,
		FieldCacheName:  cacheName,
		FieldStatus:     string(info.Status),
		FieldIsAsync:    true,
		FieldIsComplete: info.Status.Terminal(),
	}
	startedAt := info.StartedAt
	if startedAt.IsZero() {
		startedAt = info.SubmittedAt
	}
	if !startedAt.IsZero() {
		resp[FieldStartedAt] = startedAt
	}
	if info.Progress.Total > 0 {
		resp[FieldProgress] = info.Progress
	}
	if eta, ok := info.ETA(now); ok {
		resp[FieldETASeconds] = eta.Seconds()
	}
	if len(info.Attempts) > 0 {
		resp[FieldAttempts] = info.Attempts
	}
	return resp
}
