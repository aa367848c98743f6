package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/someip/internal/protocol/conformance"
	"github.com/danmuck/someip/internal/protocol/sd"
	"github.com/danmuck/someip/internal/protocol/someip"
	"github.com/danmuck/someip/internal/protocol/tp"
)

func describeMessage(w io.Writer, msg *someip.Message) {
	h := msg.Header
	fmt.Fprintf(w,
		"service=0x%04x method=0x%04x length=%d client=0x%04x session=0x%04x protocol=%d interface=%d type=%s return=%s payload=%d\n",
		h.ServiceID, h.MethodID, h.Length, h.ClientID, h.SessionID,
		h.ProtocolVersion, h.InterfaceVersion, h.MessageType, h.ReturnCode, len(msg.Payload),
	)
	if h.MessageType.UsesTP() {
		if th, err := tp.ParseHeader(msg.Payload); err == nil {
			fmt.Fprintf(w, "  tp offset=%d more=%t reserved=0x%x\n", th.Offset, th.More(), th.Reserved())
		}
	}
	if h.IsSD() {
		p, err := sd.DecodePayload(msg.Payload)
		if err != nil {
			fmt.Fprintf(w, "  sd error: %v\n", err)
			return
		}
		describeSD(w, p)
	}
}

func describeSD(w io.Writer, p sd.Payload) {
	fmt.Fprintf(w, "  sd reboot=%t unicast=%t entries=%d options=%d\n",
		p.Flags.Reboot(), p.Flags.Unicast(), len(p.Entries), len(p.Options))
	for i, e := range p.Entries {
		fmt.Fprintf(w, "  entry[%d] %s service=0x%04x instance=0x%04x major=%d ttl=%d",
			i, e.Name(), e.ServiceID, e.InstanceID, e.MajorVersion, e.TTL)
		if e.Type.IsEventgroup() {
			fmt.Fprintf(w, " eventgroup=0x%04x counter=%d", e.EventgroupID, e.Counter)
		} else {
			fmt.Fprintf(w, " minor=%d", e.MinorVersion)
		}
		runs := e.OptionRuns()
		fmt.Fprintf(w, " options=%d+%d,%d+%d\n", runs[0].Index, runs[0].Count, runs[1].Index, runs[1].Count)
	}
	for i, o := range p.Options {
		fmt.Fprintf(w, "  option[%d] %s", i, o.Type)
		switch o.Type {
		case sd.OptionConfiguration:
			items := make([]string, 0, len(o.Config))
			for _, item := range o.Config {
				if item.HasValue {
					items = append(items, item.Key+"="+item.Value)
				} else {
					items = append(items, item.Key)
				}
			}
			fmt.Fprintf(w, " %s", strings.Join(items, ","))
		case sd.OptionLoadBalancing:
			fmt.Fprintf(w, " priority=%d weight=%d", o.Priority, o.Weight)
		default:
			if o.Addr.IsValid() {
				fmt.Fprintf(w, " %s/%s", o.AddrPort(), o.Protocol)
			}
		}
		fmt.Fprintln(w)
	}
}

func describeViolations(w io.Writer, vs conformance.Violations) {
	for _, v := range vs {
		fmt.Fprintf(w, "  violation %s\n", v.Error())
	}
}
