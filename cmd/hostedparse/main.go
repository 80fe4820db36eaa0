package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/soypat/esphosted/hostedprot"
	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
)

// FrameCtl controls how decoded bus transactions are rendered.
type FrameCtl struct {
	// Bus ordering.
	Order binary.ByteOrder
	// Omit transactions where both directions carried an empty frame.
	OmitIdle bool
	// Omit the payload hexdump, print headers only.
	OmitData bool
	// Omit host-to-slave or slave-to-host direction respectively.
	OmitTx bool
	OmitRx bool
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "hostedparse - Process Binary Saleae digital data files corresponding to ESP-Hosted SPI transactions.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	sdo := flag.String("f-sdo", "digital_1.bin", "Input filename: SPI SDO (host to slave) data.")
	sdi := flag.String("f-sdi", "digital_3.bin", "Input filename: SPI SDI (slave to host) data.")
	enable := flag.String("f-cs", "digital_0.bin", "Input filename: SPI CS/SS data.")
	clk := flag.String("f-clk", "digital_2.bin", "Input filename: SPI clock data.")
	output := flag.String("o", "frames.txt", "Output filename of decoded frame history.")
	flagOrder := flag.String("order", "le", "Header field byte order. Accepts 'be' or 'le'.")
	omitIdle := flag.Bool("omit-idle", false, "Omit transactions where both directions are empty frames.")
	omitData := flag.Bool("omit-data", false, "Omit payload hexdumps, print headers only.")
	omitTx := flag.Bool("omit-tx", false, "Omit host-to-slave frames in output.")
	omitRx := flag.Bool("omit-rx", false, "Omit slave-to-host frames in output.")
	flag.Parse()
	getOrder := func(s string) binary.ByteOrder {
		switch s {
		case "be":
			return binary.BigEndian
		case "le":
			return binary.LittleEndian
		}
		log.Fatal("invalid ordering", s)
		return nil
	}
	ctl := FrameCtl{
		Order:    getOrder(*flagOrder),
		OmitIdle: *omitIdle,
		OmitData: *omitData,
		OmitTx:   *omitTx,
		OmitRx:   *omitRx,
	}
	if ctl.OmitTx && ctl.OmitRx {
		log.Fatal("cannot omit both directions")
	}
	start := time.Now()
	if err := ctl.run(*sdo, *sdi, *enable, *clk, *output); err != nil {
		log.Fatal(err.Error())
	}
	log.Println("finished in", time.Since(start))
}

func (ctl *FrameCtl) run(fsdo, fsdi, fenable, fclk, output string) error {
	txs, err := ctl.processSpiFiles(fsdo, fsdi, fclk, fenable)
	if err != nil {
		return err
	}
	fp, err := os.Create(output)
	if err != nil {
		return err
	}
	defer fp.Close()

	for _, tx := range txs {
		if ctl.OmitIdle && tx.txIdle && tx.rxIdle {
			continue
		}
		fmt.Fprintf(fp, "t=%f ×%2d\n", tx.Start, tx.Num)
		if !ctl.OmitTx {
			fmt.Fprintf(fp, "\ttx %s\n", tx.TxDesc)
		}
		if !ctl.OmitRx {
			fmt.Fprintf(fp, "\trx %s\n", tx.RxDesc)
		}
	}
	return nil
}

func (ctl *FrameCtl) processSpiFiles(fsdo, fsdi, fclk, fenable string) ([]hostedtx, error) {
	sdo, err := opendigital(fsdo)
	if err != nil {
		return nil, err
	}
	sdi, err := opendigital(fsdi)
	if err != nil {
		return nil, err
	}
	clk, err := opendigital(fclk)
	if err != nil {
		return nil, err
	}
	enable, err := opendigital(fenable)
	if err != nil {
		return nil, err
	}
	spi := analyzers.SPI{}
	txs, _ := spi.Scan(clk, enable, sdo, sdi)
	return ctl.process(txs), nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	df, err := saleae.ReadDigitalFile(fp)
	if err != nil {
		return nil, err
	}
	return df, nil
}

type hostedtx struct {
	Num    int
	TxDesc string
	RxDesc string
	Start  float64
	txIdle bool
	rxIdle bool
}

func (ctl *FrameCtl) process(txs []analyzers.TxSPI) (out []hostedtx) {
	var accumulativeResults int = 1
	for i := 0; i < len(txs); i++ {
		tx := txs[i]
		for j := i + 1; j < len(txs); j++ {
			if !bytes.Equal(txs[j].SDO, tx.SDO) || !bytes.Equal(txs[j].SDI, tx.SDI) {
				break
			}
			accumulativeResults++
			i = j
		}
		txDesc, txIdle := ctl.describeFrame(tx.SDO)
		rxDesc, rxIdle := ctl.describeFrame(tx.SDI)
		out = append(out, hostedtx{
			Num:    accumulativeResults,
			TxDesc: txDesc,
			RxDesc: rxDesc,
			Start:  tx.StartTime(),
			txIdle: txIdle,
			rxIdle: rxIdle,
		})
		accumulativeResults = 1
	}
	return out
}

// describeFrame renders one direction of a bus transaction. Idle reports
// whether the direction carried an empty frame.
func (ctl *FrameCtl) describeFrame(b []byte) (desc string, idle bool) {
	hdr, payload, err := hostedprot.ParseFrame(ctl.Order, b)
	if err != nil {
		return fmt.Sprintf("malformed (%s) raw=%#x", err.Error(), b[:min(len(b), hostedprot.PayloadHeaderLen)]), false
	}
	if hdr.IsEmpty() {
		return "idle", true
	}
	desc = fmt.Sprintf("iface=%-6s seq=%5d len=%4d", hdr.IfType().String(), hdr.Seq, hdr.Len)
	if hdr.IfType() == hostedprot.IfaceSerial {
		desc += " " + ctl.describeSerial(payload)
	} else if !ctl.OmitData {
		desc += fmt.Sprintf(" data=%#x", payload)
	}
	return desc, false
}

func (ctl *FrameCtl) describeSerial(payload []byte) string {
	endpoint, raw, err := hostedprot.ParseTLV(ctl.Order, payload)
	if err != nil {
		return "bad tlv: " + err.Error()
	}
	msg, err := hostedprot.DecodeControlMessage(ctl.Order, raw)
	if err != nil {
		return "bad control message: " + err.Error()
	}
	s := fmt.Sprintf("ep=%s kind=%s id=%s status=%d",
		string(endpoint), msg.Kind.String(), hostedprot.MessageID(msg.ID).String(), msg.Status)
	if msg.Kind == hostedprot.KindEvent {
		s = fmt.Sprintf("ep=%s kind=%s ev=%s", string(endpoint), msg.Kind.String(), hostedprot.EventID(msg.ID).String())
	}
	if !ctl.OmitData && len(msg.Body) > 0 {
		s += fmt.Sprintf(" body=%#x", msg.Body)
	}
	return s
}
