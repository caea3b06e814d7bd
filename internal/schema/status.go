package schema

// Status is the lifecycle state shared by metadata records and data chunks.
// The wire values are fixed by the control-plane protocol.
type Status string

const (
	StatusIgnored          Status = "Ignored"
	StatusWaitForScan      Status = "Wait for scan"
	StatusInProgress       Status = "In progress"
	StatusScanned          Status = "Scanned"
	StatusRescanInProgress Status = "Rescan in progress"
	StatusSkipped          Status = "Skipped"
	StatusFailed           Status = "Failed"
)

// priority orders statuses for deriving an object's aggregate status
// from its chunks. Higher wins.
var priority = map[Status]int{
	StatusScanned:          0,
	StatusIgnored:          1,
	StatusSkipped:          2,
	StatusFailed:           3,
	StatusWaitForScan:      4,
	StatusRescanInProgress: 5,
	StatusInProgress:       6,
}

// Aggregate derives an object status from its chunk statuses: Scanned only
// when every chunk is Scanned, otherwise the max-priority chunk status.
func Aggregate(chunks []Status) Status {
	if len(chunks) == 0 {
		return StatusScanned
	}
	out := chunks[0]
	for _, s := range chunks[1:] {
		if priority[s] > priority[out] {
			out = s
		}
	}
	return out
}
