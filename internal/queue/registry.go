package queue

// Registered queue names
const (
	MessageSending    = "message-sending"
	BulkDispatch      = "bulk-dispatch"
	CampaignExecution = "campaign-execution"
	TicketCleanup     = "ticket-cleanup"
)

// Processors supplies the processor of each registered queue. Producer-only
// processes may leave them nil.
type Processors struct {
	MessageSending    Processor
	BulkDispatch      Processor
	CampaignExecution Processor
	TicketCleanup     Processor
}

// Registry returns the static queue registry bound to p
func Registry(p Processors) []Descriptor {
	return []Descriptor{
		{Name: MessageSending, Concurrency: 5, Processor: p.MessageSending},
		{Name: BulkDispatch, Concurrency: 1, Processor: p.BulkDispatch},
		{Name: CampaignExecution, Concurrency: 1, Processor: p.CampaignExecution},
		{Name: TicketCleanup, Concurrency: 1, Processor: p.TicketCleanup},
	}
}
