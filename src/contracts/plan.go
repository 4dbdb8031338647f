package contracts

// LinePredicate is the in-process half of a keyword predicate.
type LinePredicate interface {
	Match(line string) bool
}

// ShellPredicate is a predicate that can also be rendered as a remote filter.
type ShellPredicate interface {
	LinePredicate
	// Shell renders a shell-safe pipeline fragment ("grep ... | grep ...").
	Shell() (string, error)
}

// QueryPlan is computed once per query and never modified.
type QueryPlan struct {
	Artifact         LogArtifact
	Mode             Mode
	KeywordPredicate ShellPredicate
	ContextLines     int
	// LocalPath is the cached copy when Mode is ModeLocal.
	LocalPath string
}
