// Package graph defines the step graph the engine walks: named steps, their
// edges, and the tagged StepResult every step produces.
package graph

// ResultKind discriminates the StepResult union so engine dispatch is one
// exhaustive switch instead of runtime type-sniffing.
type ResultKind int

const (
	// KindNoOp means the step changed nothing.
	KindNoOp ResultKind = iota
	// KindPatch means the step produced a partial-state update.
	KindPatch
	// KindPause means the step requests suspension pending external input.
	KindPause
)

// String returns the kind name for logs.
func (k ResultKind) String() string {
	switch k {
	case KindPatch:
		return "patch"
	case KindPause:
		return "pause"
	default:
		return "noop"
	}
}

// StepResult is the typed envelope every step returns: a field patch, a pause
// request, or nothing. Construct through Patch, PauseRequest or NoOp.
type StepResult struct {
	kind    ResultKind
	fields  map[string]any
	pauseID string
	prompt  any
}

// Patch returns a partial-state update. List-typed fields (messages) merge by
// append when the engine applies them; everything else replaces.
func Patch(fields map[string]any) StepResult {
	return StepResult{kind: KindPatch, fields: fields}
}

// PatchField is shorthand for a single-field patch.
func PatchField(field string, value any) StepResult {
	return Patch(map[string]any{field: value})
}

// PauseRequest returns a suspension request carrying the pause descriptor
// data. The engine stops stepping at this exact point.
func PauseRequest(id string, prompt any) StepResult {
	return StepResult{kind: KindPause, pauseID: id, prompt: prompt}
}

// NoOp returns the empty result.
func NoOp() StepResult {
	return StepResult{kind: KindNoOp}
}

// Kind returns the union discriminant.
func (r StepResult) Kind() ResultKind { return r.kind }

// Fields returns the patch payload; nil unless Kind is KindPatch.
func (r StepResult) Fields() map[string]any { return r.fields }

// Pause returns the pause id and prompt; zero values unless Kind is KindPause.
func (r StepResult) Pause() (id string, prompt any) { return r.pauseID, r.prompt }
