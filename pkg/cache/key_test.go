package cache

import "testing"

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "object describe",
			key:  Key{Instance: "https://na1.example.com", Version: "23.0", Object: "Account"},
			want: "force:describe:na1.example.com:v23.0:Account",
		},
		{
			name: "global describe",
			key:  Key{Instance: "https://na1.example.com", Version: "23.0"},
			want: "force:describe:na1.example.com:v23.0:_global",
		},
		{
			name: "host is case insensitive",
			key:  Key{Instance: "https://NA1.Example.com", Version: "23.0", Object: "Account"},
			want: "force:describe:na1.example.com:v23.0:Account",
		},
		{
			name: "instance without scheme",
			key:  Key{Instance: "na1.example.com", Version: "42.0", Object: "Contact"},
			want: "force:describe:na1.example.com:v42.0:Contact",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("Key.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKey_VersionsDoNotCollide(t *testing.T) {
	a := Key{Instance: "https://na1.example.com", Version: "23.0", Object: "Account"}
	b := Key{Instance: "https://na1.example.com", Version: "24.0", Object: "Account"}
	if a.String() == b.String() {
		t.Errorf("keys for different versions collide: %s", a.String())
	}
}
