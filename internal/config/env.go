package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig     = "KUBEWATCH_CONFIG"
	EnvNamespace  = "KUBEWATCH_NAMESPACE"
	EnvKubeconfig = "KUBEWATCH_KUBECONFIG"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // KUBEWATCH_CONFIG: override config file path
	Namespace  string // KUBEWATCH_NAMESPACE: namespace to watch
	Kubeconfig string // KUBEWATCH_KUBECONFIG: kubeconfig file
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Namespace:  os.Getenv(EnvNamespace),
		Kubeconfig: os.Getenv(EnvKubeconfig),
	}
}
