package kubernetes

// K8sConfig holds the settings for watching a Kubernetes-hosted cluster.
type K8sConfig struct {
	// Namespace scopes every watch to a single namespace.
	Namespace string `json:"namespace"`

	// RelistRPS bounds how often failed watches may be re-established,
	// in attempts per second across all watched resources.
	RelistRPS float64 `json:"relistRps"`

	// RelistBurst allows a short run of re-establish attempts, e.g. after
	// an API server restart closes every watch at once.
	RelistBurst int `json:"relistBurst"`
}
