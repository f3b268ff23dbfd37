package nodes

import (
	"context"

	"github.com/veka-server/ClaraVerse-sub006/services/flow"
)

// TextInputExecutor handles the "textInput" node type. It returns the text typed into the node.
type TextInputExecutor struct{}

func (e *TextInputExecutor) Execute(_ context.Context, ec *flow.ExecContext) flow.Result {
	return flow.Ok(ec.ConfigString("text"))
}

// StaticTextExecutor handles the "staticText" node type. Inputs are ignored.
type StaticTextExecutor struct{}

func (e *StaticTextExecutor) Execute(_ context.Context, ec *flow.ExecContext) flow.Result {
	return flow.Ok(ec.ConfigString("text"))
}

// TextOutputExecutor handles the "textOutput" and "markdownOutput" node types.
// The input value is passed through unchanged so structured values survive.
type TextOutputExecutor struct{}

func (e *TextOutputExecutor) Execute(_ context.Context, ec *flow.ExecContext) flow.Result {
	v, ok := ec.Inputs.Lookup(portTextIn, portText, flow.DefaultPort)
	if !ok {
		return flow.Ok("")
	}
	return flow.Ok(v)
}

// TextCombinerExecutor handles the "textCombiner" node type. It appends
// config.additionalText to its input.
type TextCombinerExecutor struct{}

func (e *TextCombinerExecutor) Execute(_ context.Context, ec *flow.ExecContext) flow.Result {
	return flow.Ok(primaryText(ec) + ec.ConfigString("additionalText"))
}

// ConcatTextExecutor handles the "concatText" node type. It joins its
// top-in and bottom-in ports with config.separator; config.order set to
// "bottom-first" swaps them.
type ConcatTextExecutor struct{}

func (e *ConcatTextExecutor) Execute(_ context.Context, ec *flow.ExecContext) flow.Result {
	top := ec.Inputs.Text(portTopIn)
	bottom := ec.Inputs.Text(portBottomIn)
	sep := ec.ConfigString("separator")

	if ec.ConfigString("order") == "bottom-first" {
		top, bottom = bottom, top
	}
	return flow.Ok(top + sep + bottom)
}
