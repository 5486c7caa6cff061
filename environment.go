package moshvm

// buildEnvironment assembles the environment variables exported into the
// Mosh worker, per §6. Matches original_source/mosh_nacl.cc: MOSH_KEY is
// set in both direct mode (immediately, from the configured key) and SSH
// mode (after bootstrap, from the negotiated key) -- the caller supplies
// moshKey at the point it becomes available in either case. A caller with
// no key yet (moshKey == "") leaves MOSH_KEY unset/cleared rather than
// exporting an empty value.
func buildEnvironment(cfg *Config, moshKey string, existing map[string]string) map[string]string {
	env := make(map[string]string, len(existing)+4)
	for k, v := range existing {
		env[k] = v
	}

	if moshKey != "" {
		env["MOSH_KEY"] = moshKey
	} else {
		delete(env, "MOSH_KEY")
	}

	if cfg.MoshEscapeKey != "" {
		env["MOSH_ESCAPE_KEY"] = cfg.MoshEscapeKey
	}

	env["TERM"] = "xterm-256color"
	if _, ok := env["LANG"]; !ok {
		env["LANG"] = "C.UTF-8"
	}

	if cfg.SSHMode {
		env["SSH_AUTH_SOCK"] = "agent"
	}

	return env
}
