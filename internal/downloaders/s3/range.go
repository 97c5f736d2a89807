package segloads3

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	segloadhttp "github.com/tanq16/segload/internal/downloaders/http"
)

// OpenRange fetches bytes [start, end] of the object with a ranged GetObject.
func (s *Source) OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
	})
	if err != nil {
		return nil, fmt.Errorf("error getting object range: %w", err)
	}
	if out.ContentRange == nil {
		out.Body.Close()
		return nil, segloadhttp.ErrRangeIgnored
	}
	gotStart, gotEnd, _, err := segloadhttp.ParseContentRange(*out.ContentRange)
	if err != nil {
		out.Body.Close()
		return nil, err
	}
	if gotStart != start || gotEnd != end {
		out.Body.Close()
		return nil, fmt.Errorf("S3 returned range %d-%d, requested %d-%d", gotStart, gotEnd, start, end)
	}
	return out.Body, nil
}
