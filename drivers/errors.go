package drivers

import (
	"fmt"

	"github.com/creastat/sessionstore"
	"github.com/creastat/sessionstore/query"
)

func notFound(set query.MatchExpr) error {
	return sessionstore.NewQueryError(sessionstore.CodeNotFound,
		fmt.Sprintf("Set %s(%q) is empty.", set.Index.Name, set.Term))
}

func alreadyExists(kind, name string) error {
	return sessionstore.NewQueryError(sessionstore.CodeAlreadyExists,
		fmt.Sprintf("%s %q already exists.", kind, name))
}

func undefinedRef(kind, name string) error {
	return sessionstore.NewQueryError(sessionstore.CodeInvalidRef,
		fmt.Sprintf("Ref refers to undefined %s %q.", kind, name))
}

func unsupportedTerm(spec query.IndexSpec) error {
	return sessionstore.NewQueryError(sessionstore.CodeInvalidExpression,
		fmt.Sprintf("index %q must be built on the %q field, got %q.", spec.Name, query.FieldSID, spec.TermField()))
}

func invalidExpression(expr query.Expr) error {
	return sessionstore.NewQueryError(sessionstore.CodeInvalidExpression,
		fmt.Sprintf("unsupported expression %T.", expr))
}
