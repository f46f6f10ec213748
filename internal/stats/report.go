package stats

import (
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ReportYAML renders the collector's current state as the same
// hosts/time-begin/time-end/metrics YAML shape GEOPM's report consumers
// expect. Metric order follows request registration order, not
// alphabetical order, so the report is built as an explicit yaml.Node
// tree rather than via a map (gopkg.in/yaml.v3 sorts map keys
// alphabetically on Marshal, which would scramble a multi-metric report).
func (c *Collector) ReportYAML() (string, error) {
	snapshots, err := c.snapshot()
	if err != nil {
		return "", err
	}
	timeEnd := time.Now()

	hostNode := mappingNode(
		scalar("time-begin"), scalar(c.timeBegin.Format(time.RFC3339)),
		scalar("time-end"), scalar(timeEnd.Format(time.RFC3339)),
		scalar("metrics"), metricsNode(snapshots),
	)
	hostsNode := mappingNode(scalar(c.hostname), hostNode)
	root := mappingNode(scalar("hosts"), hostsNode)

	out, err := yaml.Marshal(root)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func metricsNode(snapshots []metricSnapshot) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, s := range snapshots {
		node.Content = append(node.Content, scalar(s.name), metricEntryNode(s))
	}
	return node
}

func metricEntryNode(s metricSnapshot) *yaml.Node {
	return mappingNode(
		scalar("count"), scalar(strconv.FormatUint(s.count, 10)),
		scalar("first"), floatScalar(s.first),
		scalar("last"), floatScalar(s.last),
		scalar("min"), floatScalar(s.min),
		scalar("max"), floatScalar(s.max),
		scalar("mean"), floatScalar(s.mean),
		scalar("std"), floatScalar(s.std),
	)
}

func mappingNode(pairs ...*yaml.Node) *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Content: pairs}
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: s}
}

func floatScalar(v float64) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: strconv.FormatFloat(v, 'g', -1, 64)}
}
