/*
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

package iam_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lws-dev/lws/pkg/iam"
)

func TestIAM(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "IAM")
}

func writeFile(dir, name, content string) string {
	path := filepath.Join(dir, name)
	ExpectWithOffset(1, os.WriteFile(path, []byte(content), 0644)).To(Succeed())
	return path
}

const permissionsDoc = `
dynamodb:
  PutItem: ["dynamodb:PutItem"]
  GetItem: ["dynamodb:GetItem"]
sqs:
  SendMessage: ["sqs:SendMessage"]
`

var _ = Describe("Evaluate", func() {
	var store *iam.Store

	allowStatement := func(action, resource string) iam.Statement {
		stmt := iam.Statement{Effect: iam.EffectAllow, Action: iam.StringList{action}}
		if resource != "" {
			stmt.Resource = iam.StringList{resource}
		}
		return stmt
	}

	BeforeEach(func() {
		store = iam.NewStore()
		path := writeFile(GinkgoT().TempDir(), "permissions.yaml", permissionsDoc)
		Expect(store.LoadPermissions(path)).To(Succeed())
	})

	It("allows operations the permissions map does not know", func() {
		Expect(store.Evaluate("nobody", "dynamodb", "DescribeTable", "").Allowed).To(BeTrue())
	})

	It("denies unregistered identities on known operations", func() {
		decision := store.Evaluate("nobody", "dynamodb", "PutItem", "")
		Expect(decision.Allowed).To(BeFalse())
		Expect(decision.Reason).To(ContainSubstring("not registered"))
	})

	It("allows through inline policies with action wildcards", func() {
		store.RegisterIdentity(iam.Identity{
			Name:           "writer",
			InlinePolicies: []iam.PolicyDocument{{Statement: []iam.Statement{allowStatement("dynamodb:*", "")}}},
		})
		Expect(store.Evaluate("writer", "dynamodb", "PutItem", "").Allowed).To(BeTrue())
		Expect(store.Evaluate("writer", "sqs", "SendMessage", "").Allowed).To(BeFalse())
	})

	It("lets an explicit deny beat a matching allow", func() {
		store.RegisterIdentity(iam.Identity{
			Name: "revoked",
			InlinePolicies: []iam.PolicyDocument{{Statement: []iam.Statement{
				allowStatement("dynamodb:*", ""),
				{Sid: "BlockWrites", Effect: iam.EffectDeny, Action: iam.StringList{"dynamodb:PutItem"}},
			}}},
		})
		decision := store.Evaluate("revoked", "dynamodb", "PutItem", "")
		Expect(decision.Allowed).To(BeFalse())
		Expect(decision.Reason).To(ContainSubstring("BlockWrites"))
		Expect(store.Evaluate("revoked", "dynamodb", "GetItem", "").Allowed).To(BeTrue())
	})

	It("intersects with the permission boundary", func() {
		store.RegisterIdentity(iam.Identity{
			Name:           "bounded",
			InlinePolicies: []iam.PolicyDocument{{Statement: []iam.Statement{allowStatement("*", "")}}},
			Boundary:       &iam.PolicyDocument{Statement: []iam.Statement{allowStatement("dynamodb:GetItem", "")}},
		})
		Expect(store.Evaluate("bounded", "dynamodb", "GetItem", "").Allowed).To(BeTrue())
		decision := store.Evaluate("bounded", "dynamodb", "PutItem", "")
		Expect(decision.Allowed).To(BeFalse())
		Expect(decision.Reason).To(ContainSubstring("boundary"))
	})

	It("scopes statements to resources with prefix wildcards", func() {
		store.RegisterIdentity(iam.Identity{
			Name: "scoped",
			InlinePolicies: []iam.PolicyDocument{{Statement: []iam.Statement{
				allowStatement("dynamodb:*", "arn:aws:dynamodb:us-east-1:000000000000:table/orders*"),
			}}},
		})
		Expect(store.Evaluate("scoped", "dynamodb", "PutItem",
			"arn:aws:dynamodb:us-east-1:000000000000:table/orders").Allowed).To(BeTrue())
		Expect(store.Evaluate("scoped", "dynamodb", "PutItem",
			"arn:aws:dynamodb:us-east-1:000000000000:table/users").Allowed).To(BeFalse())
		// no resource in the request matches any statement
		Expect(store.Evaluate("scoped", "dynamodb", "PutItem", "").Allowed).To(BeTrue())
	})

	It("resolves attached managed policies by ARN", func() {
		store.RegisterManagedPolicy("arn:aws:iam::000000000000:policy/dynamo-writer",
			iam.PolicyDocument{Statement: []iam.Statement{allowStatement("dynamodb:PutItem", "")}})
		store.RegisterIdentity(iam.Identity{
			Name:               "attached",
			AttachedPolicyARNs: []string{"arn:aws:iam::000000000000:policy/dynamo-writer"},
		})
		Expect(store.Evaluate("attached", "dynamodb", "PutItem", "").Allowed).To(BeTrue())
		Expect(store.Evaluate("attached", "dynamodb", "GetItem", "").Allowed).To(BeFalse())
	})

	It("adds resource policy statements for the addressed resource", func() {
		store.RegisterIdentity(iam.Identity{Name: "guest"})
		store.SetResourcePolicy("dynamodb", "arn:aws:dynamodb:us-east-1:000000000000:table/public",
			iam.PolicyDocument{Statement: []iam.Statement{allowStatement("dynamodb:GetItem", "*")}})
		Expect(store.Evaluate("guest", "dynamodb", "GetItem",
			"arn:aws:dynamodb:us-east-1:000000000000:table/public").Allowed).To(BeTrue())
		Expect(store.Evaluate("guest", "dynamodb", "GetItem",
			"arn:aws:dynamodb:us-east-1:000000000000:table/private").Allowed).To(BeFalse())
	})

	It("drops cached decisions when an identity is re-registered", func() {
		store.RegisterIdentity(iam.Identity{Name: "grown"})
		Expect(store.Evaluate("grown", "dynamodb", "PutItem", "").Allowed).To(BeFalse())
		store.RegisterIdentity(iam.Identity{
			Name:           "grown",
			InlinePolicies: []iam.PolicyDocument{{Statement: []iam.Statement{allowStatement("dynamodb:PutItem", "")}}},
		})
		Expect(store.Evaluate("grown", "dynamodb", "PutItem", "").Allowed).To(BeTrue())
	})
})

var _ = Describe("Loading", func() {
	It("registers identities from a YAML document", func() {
		store := iam.NewStore()
		path := writeFile(GinkgoT().TempDir(), "identities.yaml", `
identities:
  - name: app
    kind: role
    policies:
      - Statement:
          - Effect: Allow
            Action: "s3:*"
  - name: reader
`)
		Expect(store.LoadIdentities(path)).To(Succeed())
		Expect(store.Identities()).To(ConsistOf("app", "reader"))
		app, ok := store.GetIdentity("app")
		Expect(ok).To(BeTrue())
		Expect(app.Kind).To(Equal(iam.KindRole))
		Expect(app.InlinePolicies).To(HaveLen(1))
		// kind defaults to user
		reader, _ := store.GetIdentity("reader")
		Expect(reader.Kind).To(Equal(iam.KindUser))
	})

	It("rejects unreadable and malformed documents", func() {
		store := iam.NewStore()
		Expect(store.LoadIdentities(filepath.Join(GinkgoT().TempDir(), "absent.yaml"))).ToNot(Succeed())
		path := writeFile(GinkgoT().TempDir(), "bad.yaml", "identities: {not: [a, list")
		Expect(store.LoadIdentities(path)).ToNot(Succeed())
	})

	It("merges permissions documents over the current map", func() {
		store := iam.NewStore()
		dir := GinkgoT().TempDir()
		Expect(store.LoadPermissions(writeFile(dir, "base.yaml", permissionsDoc))).To(Succeed())
		Expect(store.LoadPermissions(writeFile(dir, "extra.yaml", `
s3:
  PutObject: ["s3:PutObject"]
`))).To(Succeed())
		store.RegisterIdentity(iam.Identity{Name: "nobody"})
		Expect(store.Evaluate("nobody", "s3", "PutObject", "").Allowed).To(BeFalse())
		Expect(store.Evaluate("nobody", "dynamodb", "PutItem", "").Allowed).To(BeFalse())
	})
})

var _ = Describe("Settings", func() {
	It("treats disabled and empty modes as off", func() {
		Expect(iam.Settings{}.EnabledFor("s3")).To(BeFalse())
		Expect(iam.Settings{Mode: iam.ModeDisabled}.EnabledFor("s3")).To(BeFalse())
	})

	It("applies to every service unless scoped", func() {
		Expect(iam.Settings{Mode: iam.ModeEnforce}.EnabledFor("s3")).To(BeTrue())
		scoped := iam.Settings{Mode: iam.ModeAudit, Services: map[string]bool{"s3": true}}
		Expect(scoped.EnabledFor("s3")).To(BeTrue())
		Expect(scoped.EnabledFor("sqs")).To(BeFalse())
	})

	It("round-trips through the store atomically", func() {
		store := iam.NewStore()
		Expect(store.Settings().Mode).To(Equal(iam.ModeDisabled))
		store.SetSettings(iam.Settings{Mode: iam.ModeEnforce, DefaultIdentity: "app"})
		Expect(store.Settings().Mode).To(Equal(iam.ModeEnforce))
		Expect(store.Settings().DefaultIdentity).To(Equal("app"))
	})
})
