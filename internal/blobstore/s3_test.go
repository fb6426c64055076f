package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// mockS3 is an in-memory bucket
type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	listErr error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: map[string][]byte{}}
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for key := range m.objects {
		if bytes.HasPrefix([]byte(key), []byte(aws.ToString(in.Prefix))) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, key := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	return out, nil
}

var _ = Describe("S3Storage", func() {
	var (
		ctx     context.Context
		client  *mockS3
		storage Storage
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = newMockS3()
		storage = newS3StorageWithClient(client, "receipts", "images")
	})

	It("stores payloads under the prefix", func() {
		Expect(storage.Save(ctx, "a/b", []byte("img"))).To(Succeed())
		Expect(client.objects).To(HaveKey("images/a%2Fb"))

		data, err := storage.Get(ctx, "a/b")
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte("img")))
	})

	It("maps a missing key to ErrNotFound", func() {
		_, err := storage.Get(ctx, "missing")
		Expect(err).To(MatchError(ErrNotFound))
	})

	When("the upload fails", func() {
		var setupErr error

		BeforeEach(func() {
			setupErr = errors.New("access denied")
			client.putErr = setupErr
		})

		It("wraps the error", func() {
			err := storage.Save(ctx, "a", []byte("img"))
			Expect(err).To(MatchError(setupErr))
		})
	})

	Describe("GetAll and Clear", func() {
		BeforeEach(func() {
			Expect(storage.Save(ctx, "one", []byte("1"))).To(Succeed())
			Expect(storage.Save(ctx, "two", []byte("2"))).To(Succeed())
			client.objects["other/three"] = []byte("3")
		})

		It("lists only ids under the prefix", func() {
			all, err := storage.GetAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(Equal(map[string][]byte{"one": []byte("1"), "two": []byte("2")}))
		})

		It("clears only ids under the prefix", func() {
			Expect(storage.Clear(ctx)).To(Succeed())
			Expect(client.objects).To(HaveLen(1))
			Expect(client.objects).To(HaveKey("other/three"))
		})

		When("listing fails", func() {
			BeforeEach(func() {
				client.listErr = errors.New("throttled")
			})

			It("returns the error", func() {
				_, err := storage.GetAll(ctx)
				Expect(err).To(MatchError(client.listErr))
			})
		})
	})
})
