package flow

import (
	"encoding/xml"
	"sort"
	"strconv"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"

	"github.com/askiada/pipedriver/pkg/qname"
	"github.com/askiada/pipedriver/pkg/xproc"
)

// stepKind is a kind of step. A kind either maps every document on its own,
// or sees all of its input documents at once.
type stepKind struct {
	name         string
	args         func() interface{}
	perDocument  func(args interface{}, doc *Document, env *environment) ([]*Document, error)
	allDocuments func(args interface{}, docs []*Document, env *environment) ([]*Document, error)
}

type noArgs struct{}

type wrapArgs struct {
	Wrapper string `hcl:"wrapper"`
}

type parametersArgs struct {
	Port string `hcl:"port,optional"`
}

type errorArgs struct {
	Code    string `hcl:"code"`
	Message string `hcl:"message,optional"`
}

var stepKinds = map[string]stepKind{
	"identity": {
		name: "identity",
		args: func() interface{} { return &noArgs{} },
		perDocument: func(_ interface{}, doc *Document, _ *environment) ([]*Document, error) {
			return []*Document{doc}, nil
		},
	},
	"wrap": {
		name: "wrap",
		args: func() interface{} { return &wrapArgs{} },
		perDocument: func(args interface{}, doc *Document, _ *environment) ([]*Document, error) {
			wrapper := args.(*wrapArgs).Wrapper
			if wrapper == "" {
				return nil, xproc.NewError(xproc.ErrorCode("XD0019"), "wrapper must not be empty")
			}

			return []*Document{Wrap(doc, wrapper)}, nil
		},
	},
	"count": {
		name: "count",
		args: func() interface{} { return &noArgs{} },
		allDocuments: func(_ interface{}, docs []*Document, env *environment) ([]*Document, error) {
			result := NewElementDocument(env.baseURI, "c", StepNamespace, "result",
				xml.CharData(strconv.Itoa(len(docs))))

			return []*Document{result}, nil
		},
	},
	"parameters": {
		name: "parameters",
		args: func() interface{} { return &parametersArgs{} },
		allDocuments: func(args interface{}, _ []*Document, env *environment) ([]*Document, error) {
			return []*Document{env.paramSet(args.(*parametersArgs).Port)}, nil
		},
	},
	"error": {
		name: "error",
		args: func() interface{} { return &errorArgs{} },
		allDocuments: func(args interface{}, _ []*Document, _ *environment) ([]*Document, error) {
			a := args.(*errorArgs)

			code, err := qname.Parse(a.Code, map[string]string{"err": xproc.ErrorNamespace})
			if err != nil {
				return nil, xproc.WrapError(err, xproc.ErrorCode("XD0015"), "invalid error code")
			}

			if code.Space == "" {
				code = xproc.ErrorCode(code.Local)
			}

			return nil, xproc.NewError(code, a.Message)
		},
	},
}

// check verifies the argument names of body without evaluating them.
func (k stepKind) check(body hcl.Body) error {
	schema, _ := gohcl.ImpliedBodySchema(k.args())

	_, diags := body.Content(schema)
	if diags.HasErrors() {
		return diags
	}

	return nil
}

// decode evaluates the arguments of body.
func (k stepKind) decode(body hcl.Body, env *environment) (interface{}, error) {
	args := k.args()

	diags := gohcl.DecodeBody(body, env.eval, args)
	if diags.HasErrors() {
		return nil, xproc.WrapError(diags, xproc.ErrorCode("XD0023"), "unable to evaluate arguments of "+k.name)
	}

	return args, nil
}

// paramSet builds the c:param-set of the parameters set on port. An empty
// port is the primary parameter port.
func (env *environment) paramSet(port string) *Document {
	if port == "" {
		port = env.primaryParams
	}

	params := env.params[port]

	names := make([]qname.QName, 0, len(params))
	for name := range params {
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool {
		return names[i].String() < names[j].String()
	})

	children := make([]xml.Token, 0, 2*len(names))

	for _, name := range names {
		param := xml.StartElement{
			Name: xml.Name{Space: "c", Local: "param"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "name"}, Value: name.Local}},
		}

		if name.Space != "" {
			param.Attr = append(param.Attr, xml.Attr{Name: xml.Name{Local: "namespace"}, Value: name.Space})
		}

		param.Attr = append(param.Attr, xml.Attr{Name: xml.Name{Local: "value"}, Value: params[name]})
		children = append(children, param, param.End())
	}

	return NewElementDocument(env.baseURI, "c", StepNamespace, "param-set", children...)
}
