package config

import "fmt"

// Analysis holds the tunable parameters of the analysis entry points.
type Analysis struct {
	TopK              int
	AttributionMethod string

	NMFComponents int
	NMFMaxIter    int
	NMFTol        float64
	Seed          int64
}

func (c *Analysis) Validate() error {
	if c.TopK <= 0 {
		return fmt.Errorf("invalid topk: %d (must be positive)", c.TopK)
	}
	if c.AttributionMethod == "" {
		return fmt.Errorf("attribution method must not be empty")
	}
	if c.NMFComponents <= 0 {
		return fmt.Errorf("invalid nmf_components: %d (must be positive)", c.NMFComponents)
	}
	if c.NMFMaxIter <= 0 {
		return fmt.Errorf("invalid nmf_max_iter: %d (must be positive)", c.NMFMaxIter)
	}
	if c.NMFTol <= 0 {
		return fmt.Errorf("invalid nmf_tol: %g (must be positive)", c.NMFTol)
	}
	return nil
}

func Default() Analysis {
	return Analysis{
		TopK:              10,
		AttributionMethod: "grad_x_input",
		NMFComponents:     10,
		NMFMaxIter:        500,
		NMFTol:            1e-4,
	}
}

// Server configures the prismd HTTP endpoint.
type Server struct {
	Host           string
	Port           int
	AllowedOrigins []string
	LogLevel       string
	LogFormat      string
}

func (s *Server) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be in 1..65535)", s.Port)
	}
	if s.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	return nil
}

func DefaultServer() Server {
	return Server{
		Host:      "0.0.0.0",
		Port:      8080,
		LogLevel:  "info",
		LogFormat: "console",
	}
}
