package redishost

// DefaultPrefix is used when Options.Prefix is empty.
const DefaultPrefix = "loginhook"

type keyspace struct {
	prefix string
}

func newKeyspace(prefix string) keyspace {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return keyspace{prefix: prefix}
}

func (k keyspace) recovery() string {
	return k.prefix + ":recovery"
}

func (k keyspace) eventTrigger(databaseID string) string {
	return k.prefix + ":db:" + databaseID + ":event_trigger"
}

func (k keyspace) namespaces() string {
	return k.prefix + ":namespaces"
}

func (k keyspace) namespace(name string) string {
	return k.prefix + ":ns:" + name
}

func (k keyspace) superusers() string {
	return k.prefix + ":superusers"
}

func (k keyspace) data(databaseID, key string) string {
	return k.prefix + ":db:" + databaseID + ":kv:" + key
}
