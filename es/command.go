package es

// Command will find its way to an aggregate within a tenant.
type Command interface {
	CommandTenantID() TenantID
	TargetAggregateID() AggregateID
}

// BaseCommand to make it easier to get the ids.
type BaseCommand struct {
	TenantID    TenantID
	AggregateID AggregateID
}

// CommandTenantID returns the tenant the command is scoped to.
func (c *BaseCommand) CommandTenantID() TenantID {
	return c.TenantID
}

// TargetAggregateID returns the aggregate id.
func (c *BaseCommand) TargetAggregateID() AggregateID {
	return c.AggregateID
}
