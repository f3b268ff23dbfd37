package flow

// OutputTable stores the last produced value of every node, by port.
type OutputTable map[string]map[string]any

// Get returns the value a node produced on port.
func (t OutputTable) Get(nodeID, port string) (any, bool) {
	ports, ok := t[nodeID]
	if !ok {
		return nil, false
	}
	v, ok := ports[portOrDefault(port)]
	return v, ok
}

// Value returns a node's default-port value.
func (t OutputTable) Value(nodeID string) (any, bool) {
	return t.Get(nodeID, DefaultPort)
}

// record replaces a node's entry with the ports of r.
func (t OutputTable) record(nodeID string, r Result) {
	ports := make(map[string]any, len(r.Ports)+1)
	for k, v := range r.Ports {
		ports[k] = v
	}
	ports[DefaultPort] = r.Value
	t[nodeID] = ports
}

// Clone copies the table one level deep.
func (t OutputTable) Clone() OutputTable {
	out := make(OutputTable, len(t))
	for id, ports := range t {
		cp := make(map[string]any, len(ports))
		for k, v := range ports {
			cp[k] = v
		}
		out[id] = cp
	}
	return out
}
