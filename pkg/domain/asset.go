package domain

// AssetRole tags what a host is for, which selects its sandbox health-check suite.
type AssetRole string

const (
	RoleGeneric   AssetRole = "generic"
	RoleWebServer AssetRole = "web_server"
	RoleDatabase  AssetRole = "database"
)

// Asset describes a target host whose OS the sandbox must mirror.
type Asset struct {
	ID        string
	Hostname  string
	IPAddress string
	OSFamily  string
	OSVersion string
	Role      AssetRole
	Tags      map[string]string
}
