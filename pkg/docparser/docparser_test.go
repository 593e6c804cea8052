package docparser

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestDocparser(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Document Parser Suite")
}

var _ = Describe("extractContentText", func() {
	It("pulls literal strings out of Tj operators", func() {
		content := []byte(`BT /F1 12 Tf (Ground resistance) Tj (4.8 ohms) Tj ET`)
		Expect(extractContentText(content)).To(Equal("Ground resistance 4.8 ohms "))
	})

	It("concatenates every string part of a TJ array", func() {
		content := []byte(`BT [(Insul)-12(ation )(resistance)] TJ ET`)
		Expect(extractContentText(content)).To(Equal("Insulation resistance "))
	})

	It("unescapes balanced parentheses and backslashes", func() {
		content := []byte(`(panel \(main\) feeder A\\B) Tj`)
		Expect(extractContentText(content)).To(Equal(`panel (main) feeder A\B `))
	})

	It("ignores operators that show no text", func() {
		content := []byte(`q 1 0 0 1 50 700 cm /Im1 Do Q 0.5 w 10 20 m 30 40 l S`)
		Expect(extractContentText(content)).To(Equal(""))
	})

	It("handles Tj and TJ mixed in one stream", func() {
		content := []byte(`(Megger test) Tj [(500)( V)] TJ`)
		out := extractContentText(content)
		Expect(out).To(ContainSubstring("Megger test"))
		Expect(out).To(ContainSubstring("500 V"))
	})
})

var _ = Describe("groupByPage", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		for _, name := range []string{
			"Content_page_1.txt",
			"Content_page_2.txt",
			"Content_page_10.txt",
			"Report_Im0_page_2.png",
			"Report_Im1_page_2.jpg",
			"notes.txt",
		} {
			Expect(os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600)).To(Succeed())
		}
	})

	It("buckets matching files by their trailing page number", func() {
		byPage, err := groupByPage(dir, "Content_page_")
		Expect(err).ToNot(HaveOccurred())
		Expect(byPage).To(HaveLen(3))
		Expect(byPage[1]).To(HaveLen(1))
		Expect(byPage[2]).To(HaveLen(1))
		Expect(byPage[10]).To(HaveLen(1))
		Expect(byPage[10][0]).To(HaveSuffix("Content_page_10.txt"))
	})

	It("parses multi-digit page numbers rather than truncating them", func() {
		byPage, err := groupByPage(dir, "Content_page_")
		Expect(err).ToNot(HaveOccurred())
		Expect(byPage[1]).To(HaveLen(1))
		Expect(byPage[1][0]).To(HaveSuffix("Content_page_1.txt"))
	})

	It("keeps a page's files in sorted name order", func() {
		byPage, err := groupByPage(dir, "_page_")
		Expect(err).ToNot(HaveOccurred())
		files := byPage[2]
		Expect(files).To(HaveLen(3))
		Expect(files[0]).To(HaveSuffix("Content_page_2.txt"))
		Expect(files[1]).To(HaveSuffix("Report_Im0_page_2.png"))
		Expect(files[2]).To(HaveSuffix("Report_Im1_page_2.jpg"))
	})

	It("skips files that don't carry the marker", func() {
		byPage, err := groupByPage(dir, "Content_page_")
		Expect(err).ToNot(HaveOccurred())
		for _, files := range byPage {
			for _, f := range files {
				Expect(f).ToNot(HaveSuffix("notes.txt"))
			}
		}
	})
})

var _ = Describe("ParseImage", func() {
	It("wraps the file as a single page with one image block and no text", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "hotspot.png")
		payload := []byte{0x89, 'P', 'N', 'G'}
		Expect(os.WriteFile(path, payload, 0o600)).To(Succeed())

		pages, err := ParseImage(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(pages).To(HaveLen(1))
		Expect(pages[0].Text).To(BeEmpty())
		Expect(pages[0].Images).To(HaveLen(1))
		Expect(pages[0].Images[0].MediaType).To(Equal("image/png"))
		Expect(pages[0].Images[0].Data).To(Equal(payload))
	})

	It("fails with InvalidInput when the file does not exist", func() {
		_, err := ParseImage(filepath.Join(GinkgoT().TempDir(), "missing.png"))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("IsPDF", func() {
	It("matches the extension case-insensitively", func() {
		Expect(IsPDF("report.pdf")).To(BeTrue())
		Expect(IsPDF("REPORT.PDF")).To(BeTrue())
		Expect(IsPDF("scan.png")).To(BeFalse())
		Expect(IsPDF("report.pdf.png")).To(BeFalse())
	})
})

var _ = Describe("MediaTypeForExt", func() {
	DescribeTable("maps extensions to MIME types",
		func(ext, expected string) {
			Expect(MediaTypeForExt(ext)).To(Equal(expected))
		},
		Entry("jpg", ".jpg", "image/jpeg"),
		Entry("jpeg uppercase", ".JPEG", "image/jpeg"),
		Entry("png", ".png", "image/png"),
		Entry("tif", ".tif", "image/tiff"),
		Entry("tiff", ".tiff", "image/tiff"),
		Entry("unknown", ".bin", "application/octet-stream"),
	)
})
