package sshserver

// Config defines SSH bridge settings.
type Config struct {
	Addr        string
	HostKeyPath string
	// AuthorizedKeysPath restricts logins to the listed keys when set.
	AuthorizedKeysPath string
	Prompt             string
}
