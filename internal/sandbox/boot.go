package sandbox

import "sync"

var (
	bootMu sync.Mutex
	booted *Local
)

// Boot returns the process-wide local sandbox, creating it on first use.
// Later calls ignore cfg until Teardown.
func Boot(cfg LocalConfig) (*Local, error) {
	bootMu.Lock()
	defer bootMu.Unlock()
	if booted != nil {
		return booted, nil
	}
	local, err := NewLocal(cfg)
	if err != nil {
		return nil, err
	}
	booted = local
	return booted, nil
}

// Teardown closes the booted sandbox. It is a no-op when nothing is booted.
func Teardown() error {
	bootMu.Lock()
	local := booted
	booted = nil
	bootMu.Unlock()
	if local == nil {
		return nil
	}
	return local.Close()
}
