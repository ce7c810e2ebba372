package env

import (
	"os"

	"github.com/joho/godotenv"
)

// DefaultBootstrapPath is where the platform mounts per-session environment
// variables inside the container.
const DefaultBootstrapPath = "/home/config/environ.txt"

// Bootstrap reads KEY=VALUE lines from the given file into a new
// environment, exporting each variable into the agent's own process
// environment as well, so that tools spawned outside run_subproc see them
// too. A missing file is not an error.
func Bootstrap(path string) (*Environment, error) {
	env := New()

	vars, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return env, nil
		}
		return env, err
	}

	for k, v := range vars {
		env.Set(k, v)
		os.Setenv(k, v)
	}
	return env, nil
}
