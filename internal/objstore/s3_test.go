package objstore

import "testing"

func TestPublicS3URL(t *testing.T) {
	tests := []struct {
		name string
		cfg  S3Config
		want string
	}{
		{"aws", S3Config{Bucket: "vault", Region: "eu-west-1"}, "https://vault.s3.eu-west-1.amazonaws.com/u1/1-a.png"},
		{"path style", S3Config{Bucket: "vault", Endpoint: "http://minio:9000/", PathStyle: true}, "http://minio:9000/vault/u1/1-a.png"},
		{"virtual host", S3Config{Bucket: "vault", Endpoint: "https://r2.example.com"}, "https://vault.r2.example.com/u1/1-a.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PublicS3URL(tt.cfg, "u1/1-a.png"); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
