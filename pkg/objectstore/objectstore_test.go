package objectstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/auditeng/compliance/internal/errors"
)

func TestObjectStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ObjectStore Suite")
}

var _ = Describe("Key", func() {
	It("joins task id and filename", func() {
		Expect(Key("task-123", "panel-001.pdf")).To(Equal("task-123/panel-001.pdf"))
	})
})

var _ = Describe("limitedReader", func() {
	It("passes through reads within the limit", func() {
		lr := &limitedReader{r: strings.NewReader("hello"), limit: 10}
		buf := make([]byte, 5)
		n, err := lr.Read(buf)
		Expect(err).To(Or(BeNil(), Equal(io.EOF)))
		Expect(n).To(Equal(5))
	})

	It("fails once more than the limit has actually been read, even if size under-reported it", func() {
		payload := bytes.Repeat([]byte("a"), 100)
		lr := &limitedReader{r: bytes.NewReader(payload), limit: 50}

		var total int
		var lastErr error
		buf := make([]byte, 16)
		for {
			n, err := lr.Read(buf)
			total += n
			if err != nil {
				lastErr = err
				break
			}
		}
		Expect(apperrors.IsType(lastErr, apperrors.ErrorTypePayloadTooLarge)).To(BeTrue())
	})
})

var _ = Describe("Store", func() {
	var (
		server *httptest.Server
		store  *Store
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPut:
				io.Copy(io.Discard, r.Body)
				w.WriteHeader(http.StatusOK)
			case http.MethodGet:
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("document bytes"))
			case http.MethodDelete:
				w.WriteHeader(http.StatusNoContent)
			}
		}))

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion("us-east-1"),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
		)
		Expect(err).ToNot(HaveOccurred())

		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(server.URL)
			o.UsePathStyle = true
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		})
		store = &Store{client: client, bucket: "commissioning-reports"}
	})

	AfterEach(func() {
		server.Close()
	})

	It("rejects an upload whose advertised size already exceeds the ceiling", func() {
		err := store.Put(ctx, "task-1/doc.pdf", strings.NewReader("x"), MaxObjectBytes+1)
		Expect(apperrors.IsType(err, apperrors.ErrorTypePayloadTooLarge)).To(BeTrue())
	})

	It("puts and gets a small object against the mock endpoint", func() {
		Expect(store.Put(ctx, "task-1/doc.pdf", strings.NewReader("hello"), 5)).To(Succeed())

		rc, err := store.Get(ctx, "task-1/doc.pdf")
		Expect(err).ToNot(HaveOccurred())
		defer rc.Close()
		body, err := io.ReadAll(rc)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(body)).To(Equal("document bytes"))
	})

	It("deletes an object", func() {
		Expect(store.Delete(ctx, "task-1/doc.pdf")).To(Succeed())
	})
})
