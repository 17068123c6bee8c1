package grpcclient

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	progressv1 "github.com/example/course-platform/api/progress/v1"
	"github.com/example/course-platform/internal/platform/grpcjson"
)

type ProgressClient struct {
	Conn   *grpc.ClientConn
	Client progressv1.ProgressServiceClient
}

func NewProgressClient(addr string) (*ProgressClient, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpcjson.CallOption()),
	)
	if err != nil {
		return nil, err
	}
	return &ProgressClient{Conn: conn, Client: progressv1.NewProgressServiceClient(conn)}, nil
}
