package cache

import (
	"net/url"
	"strings"
)

// GlobalObject names the entry holding the global describe.
const GlobalObject = "_global"

// Key identifies one describe result.
type Key struct {
	// Instance is the instance URL the metadata was read from.
	Instance string

	// Version is the API version, without the leading "v".
	Version string

	// Object is the sobject type, or "" for the global describe.
	Object string
}

// String generates a deterministic key.
// Format: force:describe:<host>:v<version>:<object>
//
// Example:
//
//	force:describe:na1.example.com:v23.0:Account
func (k Key) String() string {
	host := k.Instance
	if u, err := url.Parse(k.Instance); err == nil && u.Host != "" {
		host = u.Host
	}
	object := k.Object
	if object == "" {
		object = GlobalObject
	}
	return strings.Join([]string{"force", "describe", strings.ToLower(host), "v" + k.Version, object}, ":")
}
