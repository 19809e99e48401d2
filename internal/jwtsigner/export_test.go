package jwtsigner

import "time"

func (s *Signer) SetClock(now func() time.Time) { s.now = now }
