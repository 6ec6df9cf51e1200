package page

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/mafredri/cdp/protocol/dom"
	"github.com/mafredri/cdp/protocol/runtime"

	"github.com/mailsentry/mailsentry/internal/core"
)

// node is a core.Node backed by a DevTools DOM node id. The host mutates
// the tree at will, so every method treats protocol errors and missing
// nodes as "element gone" rather than failures.
type node struct {
	s  *Session
	id dom.NodeID
}

func (n *node) Query(selector string) core.Node {
	ctx, cancel := n.s.opCtx()
	defer cancel()

	reply, err := n.s.client.DOM.QuerySelector(ctx, dom.NewQuerySelectorArgs(n.id, selector))
	if err != nil || reply.NodeID == 0 {
		return nil
	}
	return &node{s: n.s, id: reply.NodeID}
}

func (n *node) QueryAll(selector string) []core.Node {
	ctx, cancel := n.s.opCtx()
	defer cancel()

	reply, err := n.s.client.DOM.QuerySelectorAll(ctx, dom.NewQuerySelectorAllArgs(n.id, selector))
	if err != nil {
		return nil
	}
	nodes := make([]core.Node, 0, len(reply.NodeIDs))
	for _, id := range reply.NodeIDs {
		if id == 0 {
			continue
		}
		nodes = append(nodes, &node{s: n.s, id: id})
	}
	return nodes
}

func (n *node) Attr(name string) string {
	ctx, cancel := n.s.opCtx()
	defer cancel()

	reply, err := n.s.client.DOM.GetAttributes(ctx, dom.NewGetAttributesArgs(n.id))
	if err != nil {
		return ""
	}
	// Attributes arrive as a flat name/value list.
	for i := 0; i+1 < len(reply.Attributes); i += 2 {
		if reply.Attributes[i] == name {
			return reply.Attributes[i+1]
		}
	}
	return ""
}

func (n *node) Text() string {
	raw, err := n.callJSON(`function() { return (this.textContent || '').trim(); }`)
	if err != nil {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return ""
	}
	return text
}

func (n *node) Parent() core.Node {
	ctx, cancel := n.s.opCtx()
	defer cancel()

	objID, err := n.resolve(ctx)
	if err != nil {
		return nil
	}
	reply, err := n.s.client.Runtime.CallFunctionOn(ctx,
		runtime.NewCallFunctionOnArgs(`function() { return this.parentElement; }`).
			SetObjectID(objID))
	if err != nil || reply.ExceptionDetails != nil || reply.Result.ObjectID == nil {
		return nil
	}
	req, err := n.s.client.DOM.RequestNode(ctx, dom.NewRequestNodeArgs(*reply.Result.ObjectID))
	if err != nil || req.NodeID == 0 {
		return nil
	}
	return &node{s: n.s, id: req.NodeID}
}

func (n *node) ID() string {
	return "n" + strconv.Itoa(int(n.id))
}

func (n *node) Attached() bool {
	raw, err := n.callJSON(`function() { return this.isConnected === true; }`)
	if err != nil {
		return false
	}
	var attached bool
	if err := json.Unmarshal(raw, &attached); err != nil {
		return false
	}
	return attached
}

// resolve maps the DOM node id to a runtime object for function calls.
func (n *node) resolve(ctx context.Context) (runtime.RemoteObjectID, error) {
	reply, err := n.s.client.DOM.ResolveNode(ctx, dom.NewResolveNodeArgs().SetNodeID(n.id))
	if err != nil {
		return "", err
	}
	if reply.Object.ObjectID == nil {
		return "", errors.New("node has no remote object")
	}
	return *reply.Object.ObjectID, nil
}

// callJSON invokes a function declaration with the node as receiver and
// returns the JSON-encoded result. Arguments are marshaled by value.
func (n *node) callJSON(decl string, args ...interface{}) (json.RawMessage, error) {
	ctx, cancel := n.s.opCtx()
	defer cancel()

	objID, err := n.resolve(ctx)
	if err != nil {
		return nil, err
	}

	callArgs := make([]runtime.CallArgument, 0, len(args))
	for _, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		callArgs = append(callArgs, runtime.CallArgument{Value: raw})
	}

	reply, err := n.s.client.Runtime.CallFunctionOn(ctx,
		runtime.NewCallFunctionOnArgs(decl).
			SetObjectID(objID).
			SetArguments(callArgs).
			SetReturnByValue(true))
	if err != nil {
		return nil, err
	}
	if reply.ExceptionDetails != nil {
		return nil, errors.New(reply.ExceptionDetails.Text)
	}
	return reply.Result.Value, nil
}

var _ core.Node = (*node)(nil)
