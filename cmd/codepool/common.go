package main

import (
	"strings"

	"github.com/autonomous-bits/codepool/internal/poolenv"
	"github.com/autonomous-bits/codepool/pkg/pool"
)

// openStore resolves POOL_ROOT and returns a Store rooted there
// alongside the raw root path (pkg/migrate and pkg/dispatch need the
// root directly; pkg/pool only ever sees it wrapped in a Store).
func openStore() (*pool.Store, string, error) {
	root, err := poolenv.Root()
	if err != nil {
		return nil, "", err
	}
	return pool.NewStore(root), root, nil
}

// splitAtSign splits a "<thing>@<lang>" positional argument, the form
// shared by `add`, `get`, and `translate`'s source argument.
func splitAtSign(arg string) (thing, lang string, err error) {
	idx := strings.LastIndex(arg, "@")
	if idx <= 0 || idx == len(arg)-1 {
		return "", "", newUsageError("expected \"<value>@<language>\", got %q", arg)
	}
	return arg[:idx], arg[idx+1:], nil
}
