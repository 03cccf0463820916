// Package ebpfclassifier loads the in-kernel egress traffic classifier,
// attaches/detaches it at an interface's clsact egress hook, and drains its
// ring buffer of sampled TrafficEvent records. The kernel program itself
// (its compilation toolchain) is out of scope here: this package is
// specified against the program's map layout and event record format.
package ebpfclassifier

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/malbeclabs/wg-ondemand/internal/subnet"
	"github.com/malbeclabs/wg-ondemand/internal/wgerr"
	"github.com/vishvananda/netlink"
)

const (
	subnetMapName = "subnet_table"
	eventsMapName = "events"
	progName      = "classify_egress"
	qdiscHandle   = 0xffff0000
)

// Classifier owns the loaded BPF objects and the clsact qdisc/filter
// attachment for one interface at a time.
type Classifier struct {
	objPath string

	coll       *ebpf.Collection
	subnetsMap *ebpf.Map
	events     *ringbuf.Reader

	qdisc  netlink.Qdisc
	filter netlink.Filter

	attached bool
}

// Load reads the precompiled BPF object at objPath and loads its maps and
// program into the kernel, populating the subnet table. It does not attach
// the filter to any interface yet; call Attach for that.
func Load(objPath string, subnets []subnet.Subnet) (*Classifier, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("%w: removing memlock rlimit: %v", wgerr.ErrKernel, err)
	}

	spec, err := ebpf.LoadCollectionSpec(objPath)
	if err != nil {
		return nil, fmt.Errorf("%w: loading collection spec from %s: %v", wgerr.ErrKernel, objPath, err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: loading collection: %v", wgerr.ErrKernel, err)
	}

	subnetsMap, ok := coll.Maps[subnetMapName]
	if !ok {
		coll.Close()
		return nil, fmt.Errorf("%w: map %q not found in object", wgerr.ErrKernel, subnetMapName)
	}
	eventsMap, ok := coll.Maps[eventsMapName]
	if !ok {
		coll.Close()
		return nil, fmt.Errorf("%w: map %q not found in object", wgerr.ErrKernel, eventsMapName)
	}
	if _, ok := coll.Programs[progName]; !ok {
		coll.Close()
		return nil, fmt.Errorf("%w: program %q not found in object", wgerr.ErrKernel, progName)
	}

	table, err := subnet.ToTable(subnets)
	if err != nil {
		coll.Close()
		return nil, err
	}
	// The array MUST be fully initialized, including sentinel slots, before
	// attach; it is never resized or rewritten while attached.
	for i, s := range table {
		if err := subnetsMap.Put(uint32(i), s); err != nil {
			coll.Close()
			return nil, fmt.Errorf("%w: populating subnet table slot %d: %v", wgerr.ErrKernel, i, err)
		}
	}

	reader, err := ringbuf.NewReader(eventsMap)
	if err != nil {
		coll.Close()
		return nil, fmt.Errorf("%w: opening ring buffer reader: %v", wgerr.ErrKernel, err)
	}

	return &Classifier{
		objPath:    objPath,
		coll:       coll,
		subnetsMap: subnetsMap,
		events:     reader,
	}, nil
}

// Attach installs a clsact qdisc (if absent) and a BPF egress filter on the
// named interface. Attaching twice without an intervening Detach is a no-op
// error since the program must only ever be attached to one interface.
func (c *Classifier) Attach(ifaceName string) error {
	if c.attached {
		return fmt.Errorf("%w: classifier already attached", wgerr.ErrKernel)
	}

	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return fmt.Errorf("%w: looking up interface %s: %v", wgerr.ErrKernel, ifaceName, err)
	}

	qdisc := &netlink.GenericQdisc{
		QdiscAttrs: netlink.QdiscAttrs{
			LinkIndex: link.Attrs().Index,
			Handle:    qdiscHandle,
			Parent:    netlink.HANDLE_CLSACT,
		},
		QdiscType: "clsact",
	}
	if err := netlink.QdiscAdd(qdisc); err != nil {
		return fmt.Errorf("%w: adding clsact qdisc on %s: %v", wgerr.ErrKernel, ifaceName, err)
	}

	prog := c.coll.Programs[progName]
	filter := &netlink.BpfFilter{
		FilterAttrs: netlink.FilterAttrs{
			LinkIndex: link.Attrs().Index,
			Parent:    netlink.HANDLE_MIN_EGRESS,
			Handle:    netlink.MakeHandle(0, 1),
			Protocol:  3, // ETH_P_ALL in host order; netlink converts it to network byte order
			Priority:  1,
		},
		Fd:           prog.FD(),
		Name:         progName,
		DirectAction: true,
	}
	if err := netlink.FilterAdd(filter); err != nil {
		_ = netlink.QdiscDel(qdisc)
		return fmt.Errorf("%w: adding egress filter on %s: %v", wgerr.ErrKernel, ifaceName, err)
	}

	c.qdisc = qdisc
	c.filter = filter
	c.attached = true
	return nil
}

// Detach removes the egress filter and clsact qdisc. Calling Detach when not
// attached is a no-op.
func (c *Classifier) Detach() error {
	if !c.attached {
		return nil
	}
	var firstErr error
	if err := netlink.FilterDel(c.filter); err != nil {
		firstErr = fmt.Errorf("%w: deleting egress filter: %v", wgerr.ErrKernel, err)
	}
	if err := netlink.QdiscDel(c.qdisc); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: deleting clsact qdisc: %v", wgerr.ErrKernel, err)
	}
	c.attached = false
	c.qdisc = nil
	c.filter = nil
	return firstErr
}

// Attached reports whether the filter is currently installed.
func (c *Classifier) Attached() bool {
	return c.attached
}

// Close releases the loaded BPF objects and ring buffer reader. Detach
// should be called first if the filter is still attached.
func (c *Classifier) Close() error {
	var firstErr error
	if c.events != nil {
		if err := c.events.Close(); err != nil {
			firstErr = err
		}
	}
	if c.coll != nil {
		c.coll.Close()
	}
	return firstErr
}
