package kafka

import (
	"crypto/sha256"
	"crypto/sha512"
	"strings"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

var (
	sha256Gen scram.HashGeneratorFcn = sha256.New
	sha512Gen scram.HashGeneratorFcn = sha512.New
)

// SASLConfig holds broker credentials shared by the consumer and the audit producer.
type SASLConfig struct {
	Mechanism string
	Username  string
	Password  string
}

// Apply enables SASL on c. SCRAM mechanisms get an xdg-go client generator;
// anything else falls back to PLAIN.
func (s SASLConfig) Apply(c *sarama.Config) {
	c.Net.SASL.Enable = true
	c.Net.SASL.User = s.Username
	c.Net.SASL.Password = s.Password
	switch strings.ToUpper(strings.TrimSpace(s.Mechanism)) {
	case "SCRAM-SHA-256":
		c.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		c.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &scramClient{hash: sha256Gen}
		}
	case "SCRAM-SHA-512":
		c.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		c.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &scramClient{hash: sha512Gen}
		}
	default:
		c.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	}
}

// scramClient adapts xdg-go/scram to sarama.SCRAMClient.
type scramClient struct {
	hash scram.HashGeneratorFcn
	conv *scram.ClientConversation
}

func (s *scramClient) Begin(userName, password, authzID string) error {
	client, err := s.hash.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	s.conv = client.NewConversation()
	return nil
}

func (s *scramClient) Step(challenge string) (string, error) {
	return s.conv.Step(challenge)
}

func (s *scramClient) Done() bool {
	return s.conv.Done()
}
