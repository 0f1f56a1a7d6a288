package hcl

import (
	"github.com/hashicorp/hcl/v2"
)

// fileRoot is a struct used to decode all possible top-level blocks from any file.
type fileRoot struct {
	Name      *string          `hcl:"name,optional"`
	Params    []*paramBlock    `hcl:"param,block"`
	Inputs    []*inputBlock    `hcl:"input,block"`
	Domains   []*rdomBlock     `hcl:"rdom,block"`
	Stages    []*stageBlock    `hcl:"stage,block"`
	Outputs   []*outputBlock   `hcl:"output,block"`
	Schedules []*scheduleBlock `hcl:"schedule,block"`
}

type paramBlock struct {
	Name    string         `hcl:"name,label"`
	Default hcl.Expression `hcl:"default,optional"`
}

type inputBlock struct {
	Name     string         `hcl:"name,label"`
	Dims     int            `hcl:"dims"`
	Bounds   hcl.Expression `hcl:"bounds,optional"`
	Strides  hcl.Expression `hcl:"strides,optional"`
	Requires hcl.Expression `hcl:"requires,optional"`
	Sample   *sampleBlock   `hcl:"sample,block"`
}

type sampleBlock struct {
	Bounds [][]int64      `hcl:"bounds"`
	Vars   []string       `hcl:"vars"`
	Value  hcl.Expression `hcl:"value"`
}

type rdomBlock struct {
	Name   string        `hcl:"name,label"`
	Ranges []*rangeBlock `hcl:"range,block"`
	Where  []*whereBlock `hcl:"where,block"`
}

type rangeBlock struct {
	Name   string         `hcl:"name,label"`
	Min    hcl.Expression `hcl:"min"`
	Extent hcl.Expression `hcl:"extent"`
}

type whereBlock struct {
	Cond  hcl.Expression `hcl:"cond"`
	Outer []string       `hcl:"outer,optional"`
}

type stageBlock struct {
	Name      string         `hcl:"name,label"`
	Vars      []string       `hcl:"vars,optional"`
	Value     hcl.Expression `hcl:"value,optional"`
	Values    hcl.Expression `hcl:"values,optional"`
	Ensures   hcl.Expression `hcl:"ensures,optional"`
	Invariant hcl.Expression `hcl:"invariant,optional"`
	Updates   []*updateBlock `hcl:"update,block"`
	DefRange  hcl.Range      `hcl:",def_range"`
}

type updateBlock struct {
	Args      hcl.Expression `hcl:"args,optional"`
	Value     hcl.Expression `hcl:"value,optional"`
	Values    hcl.Expression `hcl:"values,optional"`
	Rdom      string         `hcl:"rdom,optional"`
	Combiner  string         `hcl:"combiner,optional"`
	Ensures   hcl.Expression `hcl:"ensures,optional"`
	Invariant hcl.Expression `hcl:"invariant,optional"`
	DefRange  hcl.Range      `hcl:",def_range"`
}

type outputBlock struct {
	Name    string         `hcl:"name,label"`
	Bounds  hcl.Expression `hcl:"bounds,optional"`
	Strides hcl.Expression `hcl:"strides,optional"`
}

// scheduleBlock keeps its stage blocks in the remaining body so that
// directives can be read in source order.
type scheduleBlock struct {
	VectorWidth *int     `hcl:"vector_width,optional"`
	Remain      hcl.Body `hcl:",remain"`
}

// directiveSpec holds the attributes any directive may set. Which ones a
// directive uses depends on its block type; nested directive blocks stay
// in Remain.
type directiveSpec struct {
	Var     string         `hcl:"var,optional"`
	Vars    []string       `hcl:"vars,optional"`
	Outer   string         `hcl:"outer,optional"`
	Inner   string         `hcl:"inner,optional"`
	Fused   string         `hcl:"fused,optional"`
	To      string         `hcl:"to,optional"`
	Into    string         `hcl:"into,optional"`
	Factor  *int64         `hcl:"factor,optional"`
	Factors []int64        `hcl:"factors,optional"`
	Tail    string         `hcl:"tail,optional"`
	Stage   string         `hcl:"stage,optional"`
	Def     int            `hcl:"def,optional"`
	Cond    hcl.Expression `hcl:"cond,optional"`
	Min     hcl.Expression `hcl:"min,optional"`
	Extent  hcl.Expression `hcl:"extent,optional"`
	Remain  hcl.Body       `hcl:",remain"`
}
