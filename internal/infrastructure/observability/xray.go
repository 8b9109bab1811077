package observability

import (
	"context"

	"github.com/aws/aws-xray-sdk-go/xray"
)

// TraceInvocation runs fn inside an X-Ray subsegment named name. In Lambda the
// parent facade segment comes from the invocation context. Without a parent
// segment fn runs untraced.
func TraceInvocation(ctx context.Context, name string, annotations map[string]string, fn func(context.Context) error) error {
	subCtx, seg := xray.BeginSubsegment(ctx, name)
	if seg == nil {
		return fn(ctx)
	}
	for k, v := range annotations {
		seg.AddAnnotation(k, v)
	}

	err := fn(subCtx)
	seg.Close(err)
	return err
}
