package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
)

type fakeSES struct {
	in  *sesv2.SendEmailInput
	out *sesv2.SendEmailOutput
	err error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.in = in
	return f.out, f.err
}

func TestSESSenderBuildsMessage(t *testing.T) {
	api := &fakeSES{out: &sesv2.SendEmailOutput{MessageId: aws.String("m-1")}}
	s := &SESSender{from: "noreply@rxgate.test", api: api}

	sent, err := s.Send(context.Background(), "ops@example.com", "subject", "body")
	if err != nil || !sent {
		t.Fatalf("send: sent=%v err=%v", sent, err)
	}
	if aws.ToString(api.in.FromEmailAddress) != "noreply@rxgate.test" {
		t.Fatalf("unexpected from %q", aws.ToString(api.in.FromEmailAddress))
	}
	if got := api.in.Destination.ToAddresses; len(got) != 1 || got[0] != "ops@example.com" {
		t.Fatalf("unexpected recipients %v", got)
	}
	if aws.ToString(api.in.Content.Simple.Body.Text.Data) != "body" {
		t.Fatalf("unexpected body")
	}
}

func TestSESSenderReportsFailure(t *testing.T) {
	s := &SESSender{from: "a@b.c", api: &fakeSES{err: errors.New("throttled")}}
	if sent, err := s.Send(context.Background(), "ops@example.com", "s", "b"); err == nil || sent {
		t.Fatalf("expected failure, got sent=%v err=%v", sent, err)
	}
	if _, err := s.Send(context.Background(), "", "s", "b"); err == nil {
		t.Fatalf("expected error for empty recipient")
	}
}

func TestNewSESSenderRequiresConfig(t *testing.T) {
	if _, err := NewSESSender(context.Background(), SESConfig{Region: "us-east-1"}); err == nil {
		t.Fatalf("expected error without from address")
	}
}
