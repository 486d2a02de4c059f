package cos_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/mediaconduit/txcore/cmn/cos"
)

var _ = Describe("cos", func() {
	Describe("IDs", func() {
		It("generates valid, distinct IDs", func() {
			a, b := cos.GenID(), cos.GenID()
			Expect(a).NotTo(Equal(b))
			Expect(cos.IsValidID(a)).To(BeTrue())
			Expect(cos.IsValidID(b)).To(BeTrue())
		})
	})

	Describe("Errs", func() {
		It("deduplicates by message and caps at 4", func() {
			var errs cos.Errs
			for i := 0; i < 3; i++ {
				errs.Add(cos.NewErrNotFound("widget"))
			}
			Expect(errs.Cnt()).To(Equal(1))

			var capped cos.Errs
			for i := 0; i < 6; i++ {
				capped.Add(cos.NewErrNotFound("widget-%d", i))
			}
			Expect(capped.Cnt()).To(Equal(4))
		})
	})

	Describe("StopCh", func() {
		It("broadcasts close to every listener exactly once", func() {
			sc := cos.NewStopCh()
			ch1, ch2 := sc.Listen(), sc.Listen()
			sc.Close()
			sc.Close() // idempotent
			Eventually(ch1).Should(BeClosed())
			Eventually(ch2).Should(BeClosed())
			Expect(sc.IsClosed()).To(BeTrue())
		})
	})
})
