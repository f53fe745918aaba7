package hook

// Kind discriminates the outcomes a hook may return. The zero value is
// KindNone, so a hook that has no opinion can return Result{}.
type Kind int

const (
	// KindNone means the hook abstains; the caller proceeds as if the hook
	// were absent.
	KindNone Kind = iota
	// KindAllow explicitly permits the guarded action.
	KindAllow
	// KindBlock vetoes the guarded action. Reason carries the explanation
	// surfaced to the model or the caller.
	KindBlock
	// KindContinue forces another loop step even when the runner would
	// otherwise complete.
	KindContinue
	// KindEnd finishes the current call immediately.
	KindEnd
)

// Result is the value every control-flow hook returns. Reason is only
// meaningful for KindBlock.
type Result struct {
	Kind   Kind
	Reason string
}

// Canonical results for hooks without a block reason.
var (
	None     = Result{Kind: KindNone}
	Allow    = Result{Kind: KindAllow}
	Continue = Result{Kind: KindContinue}
	End      = Result{Kind: KindEnd}
)

// Block builds a veto carrying the given reason.
func Block(reason string) Result {
	return Result{Kind: KindBlock, Reason: reason}
}

func (k Kind) String() string {
	switch k {
	case KindAllow:
		return "allow"
	case KindBlock:
		return "block"
	case KindContinue:
		return "continue"
	case KindEnd:
		return "end"
	default:
		return "none"
	}
}
