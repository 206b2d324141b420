//go:build darwin

package config

import "os/exec"

// Secrets live in the login keychain, accessed through the `security` CLI
// so no cgo keychain binding is needed.

func keychainExec(service, account string) ([]byte, error) {
	cmd := exec.Command("security", "find-generic-password",
		"-s", service, "-a", account, "-w")
	return cmd.Output()
}

// keychainStore upserts a generic password item (-U updates in place when
// the item already exists).
func keychainStore(service, account, value string) error {
	cmd := exec.Command("security", "add-generic-password", "-U",
		"-s", service, "-a", account, "-w", value)
	return cmd.Run()
}
