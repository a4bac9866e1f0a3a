package swim

import "time"

// nowNanos is a seam over time.Now for the dead-member GC timestamps;
// tests may swap it to control retention sweeps deterministically.
var nowNanos = func() int64 { return time.Now().UnixNano() }
