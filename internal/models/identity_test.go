package models

import "testing"

func TestIdentityDisplayName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ident Identity
		want  string
	}{
		{Identity{PublicKey: "xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg=", Name: "laptop"}, "laptop"},
		{Identity{PublicKey: "xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg="}, "xTIBA5rb"},
		{Identity{PublicKey: "short"}, "short"},
	}
	for _, tt := range tests {
		if got := tt.ident.DisplayName(); got != tt.want {
			t.Errorf("DisplayName()=%q want %q", got, tt.want)
		}
	}
}
